package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// wsServer serves each connection by writing the given text frames and
// closing. The feeds reconnect after the close, so every connection
// sees the same script.
func wsServer(t *testing.T, frames ...[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := wsutil.WriteServerText(conn, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsTestURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drainUntilClosed consumes the stream after the caller canceled its
// context; it fails the test if the channel never closes.
func drainUntilClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("feed channel did not close after cancel")
		}
	}
}

func TestWSDiscoveryFeedDeliversSnapshots(t *testing.T) {
	want := types.AssetSnapshot{
		AssetID:      "mint-ws",
		Chain:        types.ChainSolana,
		Symbol:       "WST",
		LiquidityUSD: 42_000,
		Holders:      300,
		TopHolderPct: 12,
		SafetyScore:  88,
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	srv := wsServer(t,
		[]byte("not json"),             // discarded
		[]byte(`{"liquidity_usd": 1}`), // no asset id, discarded
		payload,
	)

	feed := NewWSDiscoveryFeed(wsTestURL(srv), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assets, err := feed.Assets(ctx)
	require.NoError(t, err)

	select {
	case got := <-assets:
		assert.Equal(t, want.AssetID, got.AssetID)
		assert.Equal(t, want.LiquidityUSD, got.LiquidityUSD)
		assert.Equal(t, want.Holders, got.Holders)
		assert.False(t, got.DiscoveredAt.IsZero(), "missing discovery time must be stamped")
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}

	cancel()
	drainUntilClosed(t, assets)
}

func TestWSPriceFeedDeliversTicks(t *testing.T) {
	payload, err := json.Marshal(types.PriceTick{AssetID: "mint-ws", Price: 1.25})
	require.NoError(t, err)

	srv := wsServer(t, []byte("not json"), payload)

	feed := NewWSPriceFeed(wsTestURL(srv), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := feed.Ticks(ctx)
	require.NoError(t, err)

	select {
	case got := <-ticks:
		assert.Equal(t, "mint-ws", got.AssetID)
		assert.Equal(t, 1.25, got.Price)
		assert.False(t, got.Time.IsZero(), "missing tick time must be stamped")
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	drainUntilClosed(t, ticks)
}
