package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSymbolConstraintsValidate(t *testing.T) {
	c := SymbolConstraints{
		PricePrecision: 2,
		QtyPrecision:   4,
		MinQty:         d("0.0001"),
		MaxQty:         d("10"),
		MinNotional:    d("5"),
	}
	if err := c.Validate(d("100.01"), d("0.1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate(d("100.015"), d("0.1")); err == nil {
		t.Fatalf("expected price precision error")
	}
	if err := c.Validate(d("100.01"), d("0.00005")); err == nil {
		t.Fatalf("expected qty precision error")
	}
	if err := c.Validate(d("100.01"), d("11")); err == nil {
		t.Fatalf("expected max qty error")
	}
	if err := c.Validate(d("10"), d("0.2")); err == nil {
		t.Fatalf("expected notional error")
	}
	if err := c.Validate(decimal.Zero, d("1")); err == nil {
		t.Fatalf("expected non-positive price error")
	}
}
