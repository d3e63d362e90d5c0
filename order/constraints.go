package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 描述交易对的精度与名义限制。
type SymbolConstraints struct {
	PricePrecision int32
	QtyPrecision   int32
	MinQty         decimal.Decimal
	MaxQty         decimal.Decimal
	MinNotional    decimal.Decimal
}

// QuantizePrice 按价格精度取整。
func (c SymbolConstraints) QuantizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(c.PricePrecision)
}

// QuantizeQty 按数量精度取整。
func (c SymbolConstraints) QuantizeQty(q decimal.Decimal) decimal.Decimal {
	return q.Round(c.QtyPrecision)
}

// Validate 检查限价单价格/数量是否符合精度与最小名义。
func (c SymbolConstraints) Validate(price, qty decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be > 0", price)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("qty %s must be > 0", qty)
	}
	if !price.Equal(c.QuantizePrice(price)) {
		return fmt.Errorf("price %s not aligned to %d decimals", price, c.PricePrecision)
	}
	if !qty.Equal(c.QuantizeQty(qty)) {
		return fmt.Errorf("qty %s not aligned to %d decimals", qty, c.QtyPrecision)
	}
	if c.MinQty.IsPositive() && qty.LessThan(c.MinQty) {
		return fmt.Errorf("qty %s < minQty %s", qty, c.MinQty)
	}
	if c.MaxQty.IsPositive() && qty.GreaterThan(c.MaxQty) {
		return fmt.Errorf("qty %s > maxQty %s", qty, c.MaxQty)
	}
	if notional := price.Mul(qty); c.MinNotional.IsPositive() && notional.LessThan(c.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", notional, c.MinNotional)
	}
	return nil
}
