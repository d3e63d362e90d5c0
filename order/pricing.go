package order

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// SignedOffset 返回相对参考价的带符号偏移比例：卖单向上，买单向下。
func SignedOffset(side Side, bps float64) decimal.Decimal {
	off := decimal.NewFromFloat(bps).Div(bpsDenominator)
	if side == SideBuy {
		return off.Neg()
	}
	return off
}

// QuotePrice 以 index 为基准偏移 bps 后按精度取整。
func QuotePrice(index decimal.Decimal, side Side, bps float64, c SymbolConstraints) decimal.Decimal {
	return c.QuantizePrice(index.Mul(decimal.NewFromInt(1).Add(SignedOffset(side, bps))))
}

// QuoteQty 由固定名义价值换算下单数量。price 必须为取整后的报价。
func QuoteQty(notional, price decimal.Decimal, c SymbolConstraints) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return c.QuantizeQty(notional.Div(price))
}

// DiffBps 计算报价相对参考价的偏离（基点）。
func DiffBps(index, price decimal.Decimal) float64 {
	if !index.IsPositive() {
		return 0
	}
	return index.Sub(price).Abs().Div(index).Mul(bpsDenominator).InexactFloat64()
}
