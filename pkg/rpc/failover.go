package rpc

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Failover fans a Provider call out over an ordered endpoint list: the first
// endpoint that answers wins, later ones are only consulted when earlier ones
// fail. Rate-limit and not-found classifications are returned as-is rather
// than triggering a switch, since the next endpoint would be asked the same
// question the caller needs to handle anyway.
type Failover struct {
	providers []Provider
}

// NewFailover builds a failover provider from endpoint URLs. Endpoints that
// cannot be dialed are skipped as long as at least one connects.
func NewFailover(ctx context.Context, urls []string, qps float64) (*Failover, error) {
	providers := make([]Provider, 0, len(urls))
	for _, url := range urls {
		client, err := NewClient(ctx, ClientConfig{URL: url, QPS: qps})
		if err != nil {
			log.Warn("Skipping unreachable rpc endpoint", "url", url, "err", err)
			continue
		}
		providers = append(providers, client)
	}
	if len(providers) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Failover{providers: providers}, nil
}

// NewFailoverWithProviders wires pre-built providers (Testing/DI)
func NewFailoverWithProviders(providers ...Provider) *Failover {
	return &Failover{providers: providers}
}

func (f *Failover) execute(ctx context.Context, op func(Provider) error) error {
	var lastErr error
	for _, p := range f.providers {
		err := op(p)
		if err == nil {
			return nil
		}
		// Cancellation and semantic results end the attempt chain.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if IsNotFound(err) || IsRateLimited(err) {
			return err
		}
		lastErr = err
	}
	if lastErr == nil {
		return ErrNoEndpoints
	}
	return lastErr
}

// LatestBlock retrieves the chain head from the first answering endpoint
func (f *Failover) LatestBlock(ctx context.Context) (uint64, error) {
	var res uint64
	err := f.execute(ctx, func(p Provider) error {
		var e error
		res, e = p.LatestBlock(ctx)
		return e
	})
	return res, err
}

// Logs retrieves log references from the first answering endpoint
func (f *Failover) Logs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]LogRef, error) {
	var res []LogRef
	err := f.execute(ctx, func(p Provider) error {
		var e error
		res, e = p.Logs(ctx, address, fromBlock, toBlock)
		return e
	})
	return res, err
}

// TransactionByHash retrieves a transaction from the first answering endpoint
func (f *Failover) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var res *Transaction
	err := f.execute(ctx, func(p Provider) error {
		var e error
		res, e = p.TransactionByHash(ctx, hash)
		return e
	})
	return res, err
}

// ReceiptByHash retrieves a receipt from the first answering endpoint
func (f *Failover) ReceiptByHash(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var res *Receipt
	err := f.execute(ctx, func(p Provider) error {
		var e error
		res, e = p.ReceiptByHash(ctx, hash)
		return e
	})
	return res, err
}

// CallContract performs a read-only call via the first answering endpoint
func (f *Failover) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var res []byte
	err := f.execute(ctx, func(p Provider) error {
		var e error
		res, e = p.CallContract(ctx, to, data)
		return e
	})
	return res, err
}

// Close closes all underlying connections
func (f *Failover) Close() {
	for _, p := range f.providers {
		p.Close()
	}
}
