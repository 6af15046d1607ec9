package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyRejectsInvalid(t *testing.T) {
	p := New(1000)
	assert.False(t, p.Buy("AAA", 0, 10, 0, "d1"))
	assert.False(t, p.Buy("AAA", -5, 10, 0, "d1"))
	// 100*10 + 1 > 1000
	assert.False(t, p.Buy("AAA", 100, 10, 1, "d1"))
	assert.Equal(t, 1000.0, p.Cash())
	assert.Empty(t, p.Trades())
	assert.False(t, p.HasPosition("AAA"))
}

func TestBuyAveragesPrice(t *testing.T) {
	p := New(100_000)
	require.True(t, p.Buy("AAA", 100, 10, 0, "d1"))
	require.True(t, p.Buy("AAA", 100, 12, 0, "d2"))
	pos, ok := p.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 200, pos.Quantity)
	assert.InDelta(t, 11.0, pos.AvgPrice, 1e-12)
	assert.Equal(t, 12.0, pos.CurrentPrice)
	assert.InDelta(t, 100_000-2200.0, p.Cash(), 1e-9)
}

func TestSellRealizesPnL(t *testing.T) {
	p := New(100_000)
	require.True(t, p.Buy("AAA", 100, 10, 5, "d1"))
	require.True(t, p.Sell("AAA", 40, 12.5, 2, "d2"))
	trades := p.Trades()
	require.Len(t, trades, 2)
	// (12.5-10)*40 - 2
	assert.InDelta(t, 98.0, trades[1].PnL, 1e-9)
	assert.Equal(t, 0.0, trades[0].PnL)
	assert.InDelta(t, 98.0, p.RealizedPnL(), 1e-9)
	assert.InDelta(t, 100_000-1005+498.0, p.Cash(), 1e-9)

	pos, _ := p.Position("AAA")
	assert.Equal(t, 60, pos.Quantity)

	require.True(t, p.Sell("AAA", 60, 9, 0, "d3"))
	assert.False(t, p.HasPosition("AAA"))
}

func TestSellRejectsInvalid(t *testing.T) {
	p := New(10_000)
	assert.False(t, p.Sell("AAA", 1, 10, 0, "d1"))
	require.True(t, p.Buy("AAA", 10, 10, 0, "d1"))
	assert.False(t, p.Sell("AAA", 11, 10, 0, "d2"))
	assert.False(t, p.Sell("AAA", 0, 10, 0, "d2"))
	assert.Len(t, p.Trades(), 1)
	assert.Equal(t, 0.0, p.RealizedPnL())
}

func TestEquityInvariant(t *testing.T) {
	p := New(50_000)
	require.True(t, p.Buy("AAA", 100, 50, 5, "d1"))
	require.True(t, p.Buy("BBB", 30, 200, 6, "d1"))
	p.UpdatePrices(map[string]float64{"AAA": 55, "BBB": 190, "CCC": 1})
	assert.False(t, p.HasPosition("CCC"))

	want := p.Cash() + 100*55 + 30*190
	assert.InDelta(t, want, p.TotalEquity(), 1e-9)
	assert.InDelta(t, 100*55+30*190.0, p.TotalPositionValue(), 1e-9)
	assert.InDelta(t, 100*5-30*10.0, p.UnrealizedPnL(), 1e-9)

	snap := p.RecordEquity("d1")
	assert.InDelta(t, snap.Cash+snap.PositionValue, snap.Equity, 1e-9)
	p.RecordEquity("d1")
	assert.Len(t, p.EquityCurve(), 2)

	holdings := p.Holdings()
	require.Len(t, holdings, 2)
	assert.Equal(t, "AAA", holdings[0].Symbol)
	assert.InDelta(t, 0.1, holdings[0].UnrealizedPnLPct, 1e-12)
}

func TestTradeSummary(t *testing.T) {
	p := New(100_000)
	assert.Equal(t, TradeSummary{}, p.TradeSummary())

	require.True(t, p.Buy("AAA", 10, 100, 0, "d1"))
	require.True(t, p.Sell("AAA", 5, 110, 0, "d2"))
	require.True(t, p.Sell("AAA", 5, 90, 0, "d3"))
	sum := p.TradeSummary()
	assert.Equal(t, 3, sum.TotalTrades)
	assert.Equal(t, 1, sum.BuyTrades)
	assert.Equal(t, 2, sum.SellTrades)
	assert.Equal(t, 1, sum.WinningTrades)
	assert.Equal(t, 1, sum.LosingTrades)
	assert.Equal(t, 0.5, sum.WinRate)
	assert.InDelta(t, 0, sum.TotalPnL, 1e-9)
}

func TestTotalReturnAndReset(t *testing.T) {
	assert.Equal(t, 0.0, New(0).TotalReturn())

	p := New(1000)
	require.True(t, p.Buy("AAA", 10, 50, 0, "d1"))
	p.UpdatePrices(map[string]float64{"AAA": 60})
	assert.InDelta(t, 0.1, p.TotalReturn(), 1e-12)

	p.RecordEquity("d1")
	p.Reset()
	assert.Equal(t, 1000.0, p.Cash())
	assert.Empty(t, p.Trades())
	assert.Empty(t, p.EquityCurve())
	assert.Empty(t, p.Holdings())
	assert.Equal(t, 0.0, p.RealizedPnL())
}
