package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianlabs/tokensniper/internal/types"
)

func TestPriceBookSeedDoesNotOverwrite(t *testing.T) {
	book := NewPriceBook()

	book.Seed("mint-a", 1.0)
	book.Seed("mint-a", 9.0) // later seed loses to the first

	p, ok := book.LastPrice("mint-a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, p)
}

func TestPriceBookUpdateAndForget(t *testing.T) {
	book := NewPriceBook()
	book.Seed("mint-a", 1.0)

	book.Update(types.PriceTick{AssetID: "mint-a", Price: 2.5, Time: time.Now()})
	p, ok := book.LastPrice("mint-a")
	assert.True(t, ok)
	assert.Equal(t, 2.5, p)

	book.Forget("mint-a")
	_, ok = book.LastPrice("mint-a")
	assert.False(t, ok)
}

func TestPriceBookIgnoresNonPositiveSeed(t *testing.T) {
	book := NewPriceBook()
	book.Seed("mint-a", 0)
	book.Seed("mint-b", -1)

	_, ok := book.LastPrice("mint-a")
	assert.False(t, ok)
	_, ok = book.LastPrice("mint-b")
	assert.False(t, ok)
}

func TestChannelFeedsDropWhenFull(t *testing.T) {
	d := NewChannelDiscovery(1)
	assert.True(t, d.Publish(types.AssetSnapshot{AssetID: "a"}))
	assert.False(t, d.Publish(types.AssetSnapshot{AssetID: "b"}))

	p := NewChannelPrices(1)
	assert.True(t, p.Publish(types.PriceTick{AssetID: "a"}))
	assert.False(t, p.Publish(types.PriceTick{AssetID: "b"}))
}
