// Package execution defines the abstract port through which positions
// are opened and closed on a venue, plus the paper-trading
// implementation and the bounded retry wrapper for exits.
package execution

import (
	"context"
	"errors"
	"time"
)

// ErrRejected marks an on-chain or venue rejection of an order.
var ErrRejected = errors.New("order rejected")

// Fill describes the result of an executed order. Price is the fill
// price actually obtained, which may differ from the observed quote.
type Fill struct {
	AssetID string
	Price   float64
	Size    float64
	TxID    string
	Time    time.Time
}

// Port executes entries and exits. Both calls may incur network latency
// and must honor the caller-supplied context deadline.
type Port interface {
	Open(ctx context.Context, assetID string, size float64) (*Fill, error)
	Close(ctx context.Context, assetID string) (*Fill, error)
}

// IsTimeout reports whether the error is an execution deadline miss.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
