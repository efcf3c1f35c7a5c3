package rpc

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// ClientConfig represents configuration for a single RPC endpoint
type ClientConfig struct {
	URL string
	// QPS caps requests per second against this endpoint. 0 disables limiting.
	QPS float64
}

// Client wraps one RPC endpoint and implements Provider. It applies QPS
// limiting, converts go-ethereum types into the provider-owned views and
// classifies every error before returning it.
type Client struct {
	config  ClientConfig
	backend EthBackend
	signer  types.Signer
	limiter *rate.Limiter

	// Dynamic metrics (atomic operations)
	errorCount  uint64 // Consecutive error count
	totalErrors uint64 // Total error count
	latency     int64  // Average latency (ms)
}

// NewClient dials an endpoint and resolves the chain id for sender recovery (Production)
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, Classify(err)
	}
	return NewClientWithBackend(cfg, backend, chainID), nil
}

// NewClientWithBackend initializes Client with a pre-created backend (Testing/DI)
func NewClientWithBackend(cfg ClientConfig, backend EthBackend, chainID *big.Int) *Client {
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Client{
		config:  cfg,
		backend: backend,
		signer:  types.LatestSignerForChainID(chainID),
		limiter: limiter,
	}
}

// URL returns the endpoint address
func (c *Client) URL() string {
	return c.config.URL
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// recordMetric records result of a call, updating latency and error counts
func (c *Client) recordMetric(start time.Time, err error) {
	duration := time.Since(start).Milliseconds()

	// Simple moving average for latency
	oldLatency := atomic.LoadInt64(&c.latency)
	if oldLatency == 0 {
		atomic.StoreInt64(&c.latency, duration)
	} else {
		// New latency weight 20%
		atomic.StoreInt64(&c.latency, (oldLatency*8+duration*2)/10)
	}

	if err != nil {
		atomic.AddUint64(&c.errorCount, 1)
		atomic.AddUint64(&c.totalErrors, 1)
	} else {
		// Decrease error count slowly on success to avoid "jitter"
		current := atomic.LoadUint64(&c.errorCount)
		if current > 0 {
			atomic.StoreUint64(&c.errorCount, current-1)
		}
	}
}

// ErrorCount returns the current consecutive error count
func (c *Client) ErrorCount() uint64 {
	return atomic.LoadUint64(&c.errorCount)
}

// TotalErrors returns the total error count
func (c *Client) TotalErrors() uint64 {
	return atomic.LoadUint64(&c.totalErrors)
}

// Latency returns the average latency in ms
func (c *Client) Latency() int64 {
	return atomic.LoadInt64(&c.latency)
}

// LatestBlock retrieves the current chain head number
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	h, err := c.backend.BlockNumber(ctx)
	c.recordMetric(start, err)
	return h, Classify(err)
}

// Logs retrieves references to logs emitted by address in [fromBlock, toBlock]
func (c *Client) Logs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]LogRef, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	}
	start := time.Now()
	logs, err := c.backend.FilterLogs(ctx, query)
	c.recordMetric(start, err)
	if err != nil {
		return nil, Classify(err)
	}

	refs := make([]LogRef, 0, len(logs))
	for _, l := range logs {
		refs = append(refs, LogRef{
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
			Index:       l.Index,
		})
	}
	return refs, nil
}

// TransactionByHash retrieves a transaction. The block number is not part of
// the RPC response; callers that know it (the scanner does, from the log
// reference) fill it in themselves.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	c.recordMetric(start, err)
	if err != nil {
		return nil, Classify(err)
	}
	if tx == nil || pending {
		return nil, nil
	}

	out := &Transaction{
		Hash:  tx.Hash(),
		To:    tx.To(),
		Input: tx.Data(),
	}
	// Sender recovery is best effort; a zero From is preferable to failing
	// the whole enrichment over an exotic transaction type.
	if from, err := types.Sender(c.signer, tx); err == nil {
		out.From = from
	}
	return out, nil
}

// ReceiptByHash retrieves a receipt, nil if unknown
func (c *Client) ReceiptByHash(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	c.recordMetric(start, err)
	if err != nil {
		return nil, Classify(err)
	}
	if receipt == nil {
		return nil, nil
	}
	return &Receipt{
		TxHash:          receipt.TxHash,
		ContractAddress: receipt.ContractAddress,
		GasUsed:         receipt.GasUsed,
	}, nil
}

// CallContract performs a read-only call against the latest block
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	start := time.Now()
	out, err := c.backend.CallContract(ctx, msg, nil)
	c.recordMetric(start, err)
	return out, Classify(err)
}

// Close closes the underlying connection
func (c *Client) Close() {
	c.backend.Close()
}
