package values

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/84hero/oracle-scope/pkg/decoder"
	"github.com/84hero/oracle-scope/pkg/registry"
	"github.com/84hero/oracle-scope/pkg/rpc"
)

// Record is the latest on-chain value lookup outcome for one asset.
// Found=false,Failed=false is a confirmed on-chain "no value" answer;
// Failed=true means retries were exhausted on transient errors. The two are
// distinct terminal states and must stay distinguishable.
type Record struct {
	AssetIDHash    common.Hash `json:"asset_id_hash"`
	AssetName      string      `json:"asset_name"`
	QuantizedValue *big.Int    `json:"quantized_value"`
	TimestampNs    uint64      `json:"timestamp_ns"`
	Found          bool        `json:"found"`
	Failed         bool        `json:"failed"`
}

type Config struct {
	Contract common.Address

	BatchSize     int
	BatchPause    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Scanner polls the contract's latest-value entry point for every known
// asset id. It runs independently of (and concurrently with) the log scan,
// owning only its own record map.
type Scanner struct {
	provider rpc.Provider
	codec    *decoder.Decoder
	config   Config

	mu       sync.RWMutex
	records  map[common.Hash]Record
	onChange []func()
}

func New(provider rpc.Provider, codec *decoder.Decoder, cfg Config) *Scanner {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchPause == 0 {
		cfg.BatchPause = 100 * time.Millisecond
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	return &Scanner{
		provider: provider,
		codec:    codec,
		config:   cfg,
		records:  make(map[common.Hash]Record),
	}
}

// Subscribe registers a callback invoked after every recorded result.
func (s *Scanner) Subscribe(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Run scans all assets in throttled batches, then works through a second
// retry phase for assets that hit transient errors. Cancellation keeps the
// results recorded so far; partial maps are valid.
func (s *Scanner) Run(ctx context.Context, assets []registry.Asset) error {
	var retryQueue []registry.Asset

	for start := 0; start < len(assets); start += s.config.BatchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + s.config.BatchSize
		if end > len(assets) {
			end = len(assets)
		}

		transient := s.scanBatch(ctx, assets[start:end])
		retryQueue = append(retryQueue, transient...)

		if end < len(assets) {
			if err := sleep(ctx, s.config.BatchPause); err != nil {
				return err
			}
		}
	}

	if len(retryQueue) > 0 {
		log.Info("Retrying transient value lookups", "assets", len(retryQueue))
	}
	for _, asset := range retryQueue {
		if err := s.retry(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

// scanBatch reads one batch concurrently and returns the assets that failed
// transiently; those are deferred to the retry phase rather than retried
// inline so the first pass keeps moving.
func (s *Scanner) scanBatch(ctx context.Context, batch []registry.Asset) []registry.Asset {
	transient := make([]registry.Asset, 0, len(batch))
	outcomes := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, asset := range batch {
		wg.Add(1)
		go func(i int, asset registry.Asset) {
			defer wg.Done()
			outcomes[i] = s.read(ctx, asset)
		}(i, asset)
	}
	wg.Wait()

	for i, err := range outcomes {
		if err == nil || rpc.IsNotFound(err) {
			continue
		}
		transient = append(transient, batch[i])
	}
	return transient
}

// read performs one lookup and records terminal outcomes (value present or
// confirmed not-found). Transient errors record nothing and are returned.
func (s *Scanner) read(ctx context.Context, asset registry.Asset) error {
	data, err := s.codec.PackReadCall(asset.IDHash)
	if err != nil {
		// An ABI without the read method is a configuration problem, not a
		// per-asset transient.
		s.record(Record{AssetIDHash: asset.IDHash, AssetName: asset.Name, Failed: true})
		return nil
	}

	out, err := s.provider.CallContract(ctx, s.config.Contract, data)
	if err != nil {
		if rpc.IsNotFound(err) {
			s.record(Record{AssetIDHash: asset.IDHash, AssetName: asset.Name})
			return err
		}
		return err
	}

	value, err := s.codec.UnpackReadResult(out)
	if err != nil {
		return err
	}
	s.record(Record{
		AssetIDHash:    asset.IDHash,
		AssetName:      asset.Name,
		QuantizedValue: value.QuantizedValue,
		TimestampNs:    value.TimestampNs,
		Found:          true,
	})
	return nil
}

// retry gives one asset up to RetryAttempts further lookups with a fixed
// delay. A not-found answer during retry is still a valid terminal state;
// exhausting attempts marks the record failed.
func (s *Scanner) retry(ctx context.Context, asset registry.Asset) error {
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.read(ctx, asset)
		if err == nil || rpc.IsNotFound(err) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < s.config.RetryAttempts {
			if err := sleep(ctx, s.config.RetryDelay); err != nil {
				return err
			}
		}
	}

	log.Warn("Value lookup retries exhausted", "asset", asset.Name)
	s.record(Record{AssetIDHash: asset.IDHash, AssetName: asset.Name, Failed: true})
	return nil
}

func (s *Scanner) record(rec Record) {
	s.mu.Lock()
	s.records[rec.AssetIDHash] = rec
	callbacks := make([]func(), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Snapshot returns a copy of all recorded lookups.
func (s *Scanner) Snapshot() map[common.Hash]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Hash]Record, len(s.records))
	for hash, rec := range s.records {
		out[hash] = rec
	}
	return out
}

// Get returns one asset's record if a lookup has completed for it.
func (s *Scanner) Get(assetIDHash common.Hash) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[assetIDHash]
	return rec, ok
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
