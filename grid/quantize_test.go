package grid

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuantizeTruncatesTowardZero(t *testing.T) {
	cases := []struct {
		value, step, want string
	}{
		{"100.019", "0.01", "100.01"},
		{"100.999", "0.1", "100.9"},
		{"0.0049", "0.001", "0.004"},
		{"7", "0.5", "7"},
		{"7.49", "0.5", "7"},
		{"7.99", "0.5", "7.5"},
		{"0.004", "0.01", "0"},
	}
	for _, tc := range cases {
		got := Quantize(dec(tc.value), dec(tc.step))
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("Quantize(%s, %s) = %s, want %s", tc.value, tc.step, got, tc.want)
		}
	}
}

func TestQuantizeIdempotent(t *testing.T) {
	values := []string{"100.019", "0.0049", "7.99", "123456.789"}
	steps := []string{"0.01", "0.001", "0.5", "1"}
	for _, v := range values {
		for _, s := range steps {
			once := Quantize(dec(v), dec(s))
			twice := Quantize(once, dec(s))
			if !once.Equal(twice) {
				t.Fatalf("Quantize(%s, %s) not idempotent: %s != %s", v, s, once, twice)
			}
		}
	}
}

func TestQuantizeZeroStepPassthrough(t *testing.T) {
	v := dec("123.456")
	if got := Quantize(v, decimal.Zero); !got.Equal(v) {
		t.Fatalf("zero step should pass value through, got %s", got)
	}
}
