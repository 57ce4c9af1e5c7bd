package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// wsolMint is the wrapped SOL mint, the quote side of new pools.
const wsolMint = "So11111111111111111111111111111111111111112"

const (
	discoveryBuffer = 64
	signatureLimit  = 25
)

// SnapshotSource enriches a pool-creation signature into an asset
// snapshot. Implementations may call token metadata or liquidity APIs;
// fields they cannot resolve stay types.Unknown and fail their safety
// rules downstream.
type SnapshotSource interface {
	Snapshot(ctx context.Context, sig solana.Signature) (*types.AssetSnapshot, error)
}

// SolanaDiscovery polls an AMM program for fresh transactions and
// emits one snapshot per previously unseen pool-creation signature.
type SolanaDiscovery struct {
	client   *rpc.Client
	program  solana.PublicKey
	source   SnapshotSource
	interval time.Duration
	logger   *zap.Logger

	seen map[solana.Signature]struct{}
}

// NewSolanaDiscovery creates a poller against the first healthy RPC
// endpoint in the list.
func NewSolanaDiscovery(rpcURL string, programID string, source SnapshotSource, interval time.Duration, logger *zap.Logger) (*SolanaDiscovery, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", programID, err)
	}
	return &SolanaDiscovery{
		client:   rpc.New(rpcURL),
		program:  program,
		source:   source,
		interval: interval,
		logger:   logger.Named("discovery"),
		seen:     make(map[solana.Signature]struct{}),
	}, nil
}

// Assets starts the polling loop and returns the snapshot channel. The
// channel closes when the context is canceled.
func (d *SolanaDiscovery) Assets(ctx context.Context) (<-chan types.AssetSnapshot, error) {
	out := make(chan types.AssetSnapshot, discoveryBuffer)
	go d.run(ctx, out)
	return out, nil
}

func (d *SolanaDiscovery) run(ctx context.Context, out chan<- types.AssetSnapshot) {
	defer close(out)

	// Prime the seen-set so startup does not replay history as fresh
	// listings.
	if err := d.poll(ctx, nil); err != nil {
		d.logger.Warn("initial signature fetch failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.poll(ctx, out); err != nil {
				d.logger.Warn("discovery poll failed", zap.Error(err))
			}
		}
	}
}

// poll fetches recent program signatures and emits snapshots for the
// unseen ones. A nil out channel records signatures without emitting.
func (d *SolanaDiscovery) poll(ctx context.Context, out chan<- types.AssetSnapshot) error {
	limit := signatureLimit
	sigs, err := d.client.GetSignaturesForAddressWithOpts(ctx, d.program,
		&rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
	if err != nil {
		return fmt.Errorf("get signatures: %w", err)
	}

	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		if _, ok := d.seen[sig.Signature]; ok {
			continue
		}
		d.seen[sig.Signature] = struct{}{}
		if out == nil {
			continue
		}

		snap, err := d.source.Snapshot(ctx, sig.Signature)
		if err != nil {
			d.logger.Debug("could not build snapshot",
				zap.String("signature", sig.Signature.String()),
				zap.Error(err))
			continue
		}
		if snap == nil {
			continue
		}

		select {
		case out <- *snap:
			d.logger.Info("asset discovered",
				zap.String("asset", snap.AssetID),
				zap.String("signature", sig.Signature.String()))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// TokenMetaSource builds minimal snapshots from transaction token
// balances: it extracts the non-WSOL mint as the asset id and leaves
// market-quality fields unknown. Anything unknown fails its safety
// rule, so these snapshots only pass a filter explicitly configured
// to tolerate them.
type TokenMetaSource struct {
	client *rpc.Client
	logger *zap.Logger
}

// NewTokenMetaSource creates a source on the given RPC endpoint.
func NewTokenMetaSource(rpcURL string, logger *zap.Logger) *TokenMetaSource {
	return &TokenMetaSource{
		client: rpc.New(rpcURL),
		logger: logger.Named("token_meta"),
	}
}

func (s *TokenMetaSource) Snapshot(ctx context.Context, sig solana.Signature) (*types.AssetSnapshot, error) {
	maxVersion := uint64(0)
	tx, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.Meta == nil {
		return nil, nil
	}

	for _, bal := range tx.Meta.PostTokenBalances {
		mint := bal.Mint.String()
		if mint == wsolMint {
			continue
		}

		snap := &types.AssetSnapshot{
			AssetID:         mint,
			Chain:           types.ChainSolana,
			LiquidityUSD:    types.Unknown,
			Holders:         types.Unknown,
			TopHolderPct:    types.Unknown,
			SafetyScore:     types.Unknown,
			InitialPriceUSD: types.Unknown,
			DiscoveredAt:    time.Now().UTC(),
		}
		if tx.BlockTime != nil {
			snap.PoolCreatedAt = tx.BlockTime.Time()
		}
		return snap, nil
	}
	return nil, nil
}
