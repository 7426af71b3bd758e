package market

import (
	"context"
	"testing"
	"time"

	"stratexec/internal/clock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceBook_UpdateAndLookup(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewPriceBook(WithClock(clk))

	changed, err := b.Update(Quote{Symbol: " btc ", Price: px("50000")})
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok := b.Price("BTC")
	require.True(t, ok)
	assert.True(t, got.Equal(px("50000")))

	q, ok := b.Quote("btc")
	require.True(t, ok)
	assert.Equal(t, "BTC", q.Symbol)
	assert.Equal(t, clk.Now(), q.At)

	_, ok = b.Price("ETH")
	assert.False(t, ok)
}

func TestPriceBook_RejectsInvalid(t *testing.T) {
	b := NewPriceBook()
	_, err := b.Update(Quote{Symbol: "BTC", Price: px("0")})
	require.ErrorIs(t, err, ErrInvalidQuote)
	_, err = b.Update(Quote{Symbol: "", Price: px("1")})
	require.ErrorIs(t, err, ErrInvalidQuote)
	assert.Empty(t, b.Snapshot())
}

func TestPriceBook_IgnoresOlderQuotes(t *testing.T) {
	b := NewPriceBook()
	now := time.Now().UTC()
	_, err := b.Update(Quote{Symbol: "BTC", Price: px("2"), At: now})
	require.NoError(t, err)
	changed, err := b.Update(Quote{Symbol: "BTC", Price: px("1"), At: now.Add(-time.Second)})
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := b.Price("BTC")
	assert.True(t, got.Equal(px("2")))
}

func TestPriceBook_MaxAge(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewPriceBook(WithClock(clk), WithMaxAge(time.Minute))
	require.NoError(t, b.Set("BTC", px("10")))

	clk.Advance(30 * time.Second)
	_, ok := b.Price("BTC")
	assert.True(t, ok)

	clk.Advance(31 * time.Second)
	_, ok = b.Price("BTC")
	assert.False(t, ok, "expired quotes are not served")
	_, ok = b.Quote("BTC")
	assert.True(t, ok, "but are still held")
}

func TestPriceBook_SnapshotAndWatchers(t *testing.T) {
	b := NewPriceBook()
	var seen []string
	b.OnUpdate(func(q Quote) { seen = append(seen, q.Symbol) })

	require.NoError(t, b.Set("eth", px("3")))
	require.NoError(t, b.Set("btc", px("5")))
	b.Remove("ETH")

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "BTC", snap[0].Symbol)
	assert.Equal(t, []string{"ETH", "BTC"}, seen)
}

func TestPriceBook_Consume(t *testing.T) {
	b := NewPriceBook()
	ch := make(chan Quote, 3)
	ch <- Quote{Symbol: "BTC", Price: px("1")}
	ch <- Quote{Symbol: "BAD", Price: px("-1")}
	ch <- Quote{Symbol: "ETH", Price: px("2")}
	close(ch)

	b.Consume(context.Background(), ch)
	assert.Len(t, b.Snapshot(), 2)
}
