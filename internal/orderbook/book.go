// Package orderbook simulates a shallow limit order book per sector and
// executes manager-approved decisions against it.
package orderbook

import (
	"math"

	"github.com/shopspring/decimal"
)

// Level is one price level of the simulated book.
type Level struct {
	Price    float64
	Quantity decimal.Decimal
}

// Book is a synthetic depth snapshot built around the sector's last price.
type Book struct {
	Bids []Level // descending price
	Asks []Level // ascending price
}

// depthLevels is the number of synthetic levels per side.
const depthLevels = 10

// Build constructs a book around mid with spreads widened by volatility.
// Depth per level grows away from the touch, which gives large orders a
// realistic slippage profile.
func Build(mid float64, volatility float64) Book {
	if mid <= 0 {
		mid = 1
	}
	spread := mid * (0.0005 + volatility*0.002)
	book := Book{}
	for i := 1; i <= depthLevels; i++ {
		offset := spread * float64(i)
		qty := decimal.NewFromFloat(math.Round(50+25*float64(i)) / 10)
		book.Asks = append(book.Asks, Level{Price: mid + offset, Quantity: qty})
		book.Bids = append(book.Bids, Level{Price: mid - offset, Quantity: qty})
	}
	return book
}

// Fill is the volume-weighted result of walking the book.
type Fill struct {
	AvgPrice float64
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// MatchBuy walks the ask side for the requested quantity. Partial depth is
// filled at the worst level rather than rejected; a simulated book always
// quotes a price of last resort.
func (b Book) MatchBuy(quantity decimal.Decimal) Fill {
	return walk(b.Asks, quantity)
}

// MatchSell walks the bid side for the requested quantity.
func (b Book) MatchSell(quantity decimal.Decimal) Fill {
	return walk(b.Bids, quantity)
}

func walk(levels []Level, quantity decimal.Decimal) Fill {
	if quantity.LessThanOrEqual(decimal.Zero) || len(levels) == 0 {
		return Fill{}
	}
	remaining := quantity
	notional := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, lvl.Quantity)
		notional = notional.Add(take.Mul(decimal.NewFromFloat(lvl.Price)))
		remaining = remaining.Sub(take)
	}
	if remaining.GreaterThan(decimal.Zero) {
		last := levels[len(levels)-1]
		notional = notional.Add(remaining.Mul(decimal.NewFromFloat(last.Price)))
	}
	avg, _ := notional.Div(quantity).Float64()
	return Fill{AvgPrice: avg, Quantity: quantity, Notional: notional}
}
