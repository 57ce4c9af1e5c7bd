package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/types"
)

const wsTickBuffer = 256

// wsStream is the shared connection loop behind the WebSocket feeds:
// dial with exponential backoff, read one JSON message at a time, hand
// it to the feed's decoder, reconnect on any drop until the context is
// canceled.
type wsStream struct {
	url          string
	logger       *zap.Logger
	onDisconnect func(err error)

	// handle decodes and delivers one message; it returns an error
	// only when the stream must stop (context canceled).
	handle func(ctx context.Context, msg []byte) error
}

func (s *wsStream) run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			return
		}

		err = s.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("feed disconnected, reconnecting", zap.Error(err))
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
	}
}

// dial connects with exponential backoff until the context is
// canceled.
func (s *wsStream) dial(ctx context.Context) (net.Conn, error) {
	op := func() (net.Conn, error) {
		conn, _, _, err := ws.Dial(ctx, s.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			s.logger.Warn("feed dial failed", zap.Error(err))
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.logger.Info("feed connected", zap.String("url", s.url))
	return conn, nil
}

func (s *wsStream) readLoop(ctx context.Context, conn net.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Bound the read so a silent peer cannot hold the loop past
		// context cancellation forever.
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		msg, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// WSPriceFeed streams price ticks from a WebSocket endpoint that sends
// one JSON tick per message. Disconnects trigger reconnection with
// exponential backoff; in-flight positions keep their last-known price
// while the feed is down.
type WSPriceFeed struct {
	url    string
	logger *zap.Logger

	// OnDisconnect, when set, is called once per dropped connection.
	OnDisconnect func(err error)
}

// NewWSPriceFeed creates a feed for the given ws:// or wss:// URL.
func NewWSPriceFeed(url string, logger *zap.Logger) *WSPriceFeed {
	return &WSPriceFeed{
		url:    url,
		logger: logger.Named("price_ws"),
	}
}

// Ticks starts the read loop and returns the tick channel. The channel
// closes when the context is canceled.
func (f *WSPriceFeed) Ticks(ctx context.Context) (<-chan types.PriceTick, error) {
	out := make(chan types.PriceTick, wsTickBuffer)

	stream := &wsStream{
		url:    f.url,
		logger: f.logger,
		onDisconnect: func(err error) {
			if f.OnDisconnect != nil {
				f.OnDisconnect(err)
			}
		},
		handle: func(ctx context.Context, msg []byte) error {
			var tick types.PriceTick
			if err := json.Unmarshal(msg, &tick); err != nil {
				f.logger.Debug("discarding malformed tick", zap.Error(err))
				return nil
			}
			if tick.Time.IsZero() {
				tick.Time = time.Now().UTC()
			}
			select {
			case out <- tick:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	go func() {
		defer close(out)
		stream.run(ctx)
	}()
	return out, nil
}

// WSDiscoveryFeed streams asset snapshots from a WebSocket endpoint
// that sends one JSON snapshot per message. An alternative to the RPC
// polling discovery for venues that push listings directly.
type WSDiscoveryFeed struct {
	url    string
	logger *zap.Logger

	// OnDisconnect, when set, is called once per dropped connection.
	OnDisconnect func(err error)
}

// NewWSDiscoveryFeed creates a feed for the given ws:// or wss:// URL.
func NewWSDiscoveryFeed(url string, logger *zap.Logger) *WSDiscoveryFeed {
	return &WSDiscoveryFeed{
		url:    url,
		logger: logger.Named("discovery_ws"),
	}
}

// Assets starts the read loop and returns the snapshot channel. The
// channel closes when the context is canceled.
func (f *WSDiscoveryFeed) Assets(ctx context.Context) (<-chan types.AssetSnapshot, error) {
	out := make(chan types.AssetSnapshot, wsTickBuffer)

	stream := &wsStream{
		url:    f.url,
		logger: f.logger,
		onDisconnect: func(err error) {
			if f.OnDisconnect != nil {
				f.OnDisconnect(err)
			}
		},
		handle: func(ctx context.Context, msg []byte) error {
			var snap types.AssetSnapshot
			if err := json.Unmarshal(msg, &snap); err != nil {
				f.logger.Debug("discarding malformed snapshot", zap.Error(err))
				return nil
			}
			if snap.AssetID == "" {
				f.logger.Debug("discarding snapshot without asset id")
				return nil
			}
			if snap.DiscoveredAt.IsZero() {
				snap.DiscoveredAt = time.Now().UTC()
			}
			select {
			case out <- snap:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	go func() {
		defer close(out)
		stream.run(ctx)
	}()
	return out, nil
}
