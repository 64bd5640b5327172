package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func klinesFromCloses(closes ...string) []Kline {
	out := make([]Kline, 0, len(closes))
	for i, c := range closes {
		d := decimal.RequireFromString(c)
		out = append(out, Kline{
			OpenTime:  int64(i) * 60_000,
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			CloseTime: int64(i)*60_000 + 59_999,
		})
	}
	return out
}

func TestTrendDetectorDirections(t *testing.T) {
	var d TrendDetector

	bullish, err := d.Detect(klinesFromCloses("99", "100.5", "102"))
	if err != nil {
		t.Fatalf("bullish detect: %v", err)
	}
	if bullish.Direction != TrendBullish {
		t.Fatalf("expected bullish, got %s (strength %s)", bullish.Direction, bullish.Strength)
	}

	bearish, err := d.Detect(klinesFromCloses("102", "100.5", "99"))
	if err != nil {
		t.Fatalf("bearish detect: %v", err)
	}
	if bearish.Direction != TrendBearish {
		t.Fatalf("expected bearish, got %s", bearish.Direction)
	}

	flat, err := d.Detect(klinesFromCloses("100", "100", "100"))
	if err != nil {
		t.Fatalf("flat detect: %v", err)
	}
	if flat.Direction != TrendSideways {
		t.Fatalf("expected sideways, got %s", flat.Direction)
	}
	if !flat.Slope.IsZero() {
		t.Fatalf("flat slope should be zero, got %s", flat.Slope)
	}
}

func TestTrendDetectorThresholdExclusive(t *testing.T) {
	// 等差序列 99.85, 100, 100.15：slope=0.15，mean=100，strength 恰为 0.0015。
	// 阈值两侧均为开区间，该值必须判为震荡。
	var d TrendDetector
	sig, err := d.Detect(klinesFromCloses("99.85", "100", "100.15"))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !sig.Strength.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("expected strength exactly 0.0015, got %s", sig.Strength)
	}
	if sig.Direction != TrendSideways {
		t.Fatalf("boundary strength must classify sideways, got %s", sig.Direction)
	}

	// 略高于阈值则转为看多。
	sig2, err := d.Detect(klinesFromCloses("99.84", "100", "100.16"))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if sig2.Direction != TrendBullish {
		t.Fatalf("expected bullish above threshold, got %s", sig2.Direction)
	}
}

func TestTrendDetectorInsufficientCloses(t *testing.T) {
	var d TrendDetector
	_, err := d.Detect(klinesFromCloses("100", "101"))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
