package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/84hero/oracle-scope/pkg/rpc"
	"github.com/84hero/oracle-scope/pkg/storage"
)

// ErrUnstableEndpoint is returned when the consecutive-failure ceiling is
// hit; the endpoint is considered too unstable to finish the scan.
var ErrUnstableEndpoint = errors.New("rpc endpoint unstable: consecutive failure ceiling reached")

type Config struct {
	Contract common.Address

	// ScanKey enables cursor checkpointing when a Persistence store is
	// wired. Empty disables checkpointing.
	ScanKey string

	InitialChunkSize uint64
	MaxChunkSize     uint64
	MinChunkSize     uint64

	TxBatchSize   int
	BatchAttempts int

	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration

	MaxConsecutiveFailures int
}

// Cursor is the transient state of one in-flight backward scan. It is owned
// exclusively by the running scan; Progress callbacks receive copies.
type Cursor struct {
	Block                uint64
	ChunkSize            uint64
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	RetryDelay           time.Duration
	CreationFound        bool
}

// Result pairs a transaction with its receipt.
type Result struct {
	Tx      *rpc.Transaction
	Receipt *rpc.Receipt
}

// Handler receives enriched pairs as they are discovered, newest block first.
type Handler func(ctx context.Context, res Result) error

// Progress receives a cursor snapshot and the running transaction count
// after each completed range.
type Progress func(cursor Cursor, txFound int)

// Scanner walks the chain backward from the tip, enumerating every
// historical transaction that emitted logs from the target contract, until
// the contract's creation (or genesis) is reached.
type Scanner struct {
	provider rpc.Provider
	store    storage.Persistence
	config   Config
	handler  Handler
	progress Progress

	seen  map[common.Hash]struct{}
	found int
}

func New(provider rpc.Provider, store storage.Persistence, cfg Config) *Scanner {
	if cfg.InitialChunkSize == 0 {
		cfg.InitialChunkSize = 100_000
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 500_000
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 1_000
	}
	if cfg.TxBatchSize == 0 {
		cfg.TxBatchSize = 20
	}
	if cfg.BatchAttempts == 0 {
		cfg.BatchAttempts = 3
	}
	if cfg.InitialRetryDelay == 0 {
		cfg.InitialRetryDelay = 1 * time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 50
	}
	return &Scanner{
		provider: provider,
		store:    store,
		config:   cfg,
		seen:     make(map[common.Hash]struct{}),
	}
}

// SetHandler sets the callback invoked for every enriched transaction.
func (s *Scanner) SetHandler(h Handler) {
	s.handler = h
}

// SetProgress sets the callback invoked after every completed range.
func (s *Scanner) SetProgress(p Progress) {
	s.progress = p
}

// Run executes the backward scan. The chain tip fetched here is the fixed
// upper bound for the whole session; blocks mined afterwards are covered by
// an explicit refresh, not by this walk. Returns nil on normal termination
// (creation found or genesis reached), ctx.Err() on cancellation.
func (s *Scanner) Run(ctx context.Context) error {
	latest, err := s.provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest block: %w", err)
	}

	cursor := Cursor{
		Block:      latest,
		ChunkSize:  s.config.InitialChunkSize,
		RetryDelay: s.config.InitialRetryDelay,
	}

	if resumed, ok := s.loadCheckpoint(latest); ok {
		cursor.Block = resumed
		log.Info("Resuming backward scan from checkpoint", "block", resumed, "tip", latest)
	} else {
		log.Info("Backward scan started", "tip", latest, "contract", s.config.Contract)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var fromBlock uint64
		if cursor.Block+1 > cursor.ChunkSize {
			fromBlock = cursor.Block - cursor.ChunkSize + 1
		}

		refs, err := s.provider.Logs(ctx, s.config.Contract, fromBlock, cursor.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fatal := s.handleRangeFailure(&cursor, err); fatal != nil {
				return fatal
			}
			if err := sleep(ctx, cursor.RetryDelay); err != nil {
				return err
			}
			// Retry the same range; the cursor never advances past a
			// range that was not successfully fetched.
			continue
		}

		hashes := s.orderAndDedup(refs)
		creation, err := s.enrich(ctx, &cursor, hashes, blockIndex(refs))
		if err != nil {
			return err
		}

		cursor.ConsecutiveFailures = 0
		cursor.ConsecutiveSuccesses++
		if cursor.ConsecutiveSuccesses >= 2 {
			cursor.ChunkSize = growChunk(cursor.ChunkSize, s.config.MaxChunkSize)
			cursor.ConsecutiveSuccesses = 0
		}
		cursor.RetryDelay = decayDelay(cursor.RetryDelay, s.config.InitialRetryDelay)

		if creation {
			cursor.CreationFound = true
			s.clearCheckpoint()
			s.report(cursor)
			log.Info("Contract creation found, scan complete", "txs", s.found)
			return nil
		}
		if fromBlock == 0 {
			s.clearCheckpoint()
			s.report(cursor)
			log.Info("Genesis reached, scan complete", "txs", s.found)
			return nil
		}

		s.saveCheckpoint(fromBlock)
		cursor.Block = fromBlock - 1
		s.report(cursor)
	}
}

func (s *Scanner) handleRangeFailure(cursor *Cursor, err error) error {
	cursor.ConsecutiveSuccesses = 0
	cursor.ConsecutiveFailures++
	if cursor.ConsecutiveFailures >= s.config.MaxConsecutiveFailures {
		return fmt.Errorf("%w: %v", ErrUnstableEndpoint, err)
	}

	if rpc.IsRateLimited(err) {
		// Back off harder but keep the chunk size: the range is not the
		// problem, the request rate is.
		cursor.RetryDelay = capDelay(cursor.RetryDelay*2, s.config.MaxRetryDelay)
		log.Warn("Range fetch rate limited", "block", cursor.Block, "delay", cursor.RetryDelay)
		return nil
	}

	divisor := uint64(2)
	if cursor.ConsecutiveFailures > 2 {
		divisor = 4
	}
	cursor.ChunkSize = cursor.ChunkSize / divisor
	if cursor.ChunkSize < s.config.MinChunkSize {
		cursor.ChunkSize = s.config.MinChunkSize
	}
	log.Warn("Range fetch failed, shrinking chunk", "block", cursor.Block, "chunk", cursor.ChunkSize, "failures", cursor.ConsecutiveFailures, "err", err)
	return nil
}

// orderAndDedup extracts distinct transaction hashes ordered by descending
// block number, ties broken by log order. Hashes already emitted by earlier
// ranges are dropped.
func (s *Scanner) orderAndDedup(refs []rpc.LogRef) []common.Hash {
	sorted := make([]rpc.LogRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber > sorted[j].BlockNumber
		}
		return sorted[i].Index < sorted[j].Index
	})

	hashes := make([]common.Hash, 0, len(sorted))
	for _, ref := range sorted {
		if _, dup := s.seen[ref.TxHash]; dup {
			continue
		}
		s.seen[ref.TxHash] = struct{}{}
		hashes = append(hashes, ref.TxHash)
	}
	return hashes
}

func blockIndex(refs []rpc.LogRef) map[common.Hash]uint64 {
	idx := make(map[common.Hash]uint64, len(refs))
	for _, ref := range refs {
		idx[ref.TxHash] = ref.BlockNumber
	}
	return idx
}

// enrich fetches transaction/receipt pairs in batches and emits them through
// the handler. Returns true when the contract creation receipt was seen.
func (s *Scanner) enrich(ctx context.Context, cursor *Cursor, hashes []common.Hash, blocks map[common.Hash]uint64) (bool, error) {
	for start := 0; start < len(hashes); start += s.config.TxBatchSize {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		end := start + s.config.TxBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]

		results, err := s.fetchBatchWithRetry(ctx, cursor, batch, blocks)
		if err != nil {
			return false, err
		}
		if results == nil {
			// Batch exhausted its attempts; skipped but counted toward the
			// consecutive-failure ceiling.
			continue
		}

		creation, err := s.emit(ctx, results)
		if creation || err != nil {
			return creation, err
		}
	}
	return false, nil
}

func (s *Scanner) fetchBatchWithRetry(ctx context.Context, cursor *Cursor, batch []common.Hash, blocks map[common.Hash]uint64) ([]Result, error) {
	backoff := s.config.InitialRetryDelay
	for attempt := 1; attempt <= s.config.BatchAttempts; attempt++ {
		results, err := s.fetchBatch(ctx, batch, blocks)
		if err == nil {
			cursor.ConsecutiveFailures = 0
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		cursor.ConsecutiveFailures++
		if cursor.ConsecutiveFailures >= s.config.MaxConsecutiveFailures {
			return nil, fmt.Errorf("%w: %v", ErrUnstableEndpoint, err)
		}
		log.Warn("Transaction batch fetch failed", "attempt", attempt, "size", len(batch), "err", err)

		if attempt < s.config.BatchAttempts {
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = capDelay(time.Duration(float64(backoff)*1.5), s.config.MaxRetryDelay)
		}
	}
	return nil, nil
}

func (s *Scanner) fetchBatch(ctx context.Context, batch []common.Hash, blocks map[common.Hash]uint64) ([]Result, error) {
	results := make([]Result, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, hash := range batch {
		wg.Add(1)
		go func(i int, hash common.Hash) {
			defer wg.Done()
			tx, err := s.provider.TransactionByHash(ctx, hash)
			if err != nil {
				errs[i] = err
				return
			}
			receipt, err := s.provider.ReceiptByHash(ctx, hash)
			if err != nil {
				errs[i] = err
				return
			}
			if tx == nil || receipt == nil {
				errs[i] = fmt.Errorf("transaction %s not available", hash)
				return
			}
			tx.BlockNumber = blocks[hash]
			results[i] = Result{Tx: tx, Receipt: receipt}
		}(i, hash)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Scanner) emit(ctx context.Context, results []Result) (bool, error) {
	for _, res := range results {
		s.found++
		if s.handler != nil {
			if err := s.handler(ctx, res); err != nil {
				return false, err
			}
		}
		if res.Receipt.ContractAddress == s.config.Contract && s.config.Contract != (common.Address{}) {
			// The creation transaction itself was just emitted; everything
			// older predates the contract.
			return true, nil
		}
	}
	return false, nil
}

func (s *Scanner) report(cursor Cursor) {
	if s.progress != nil {
		s.progress(cursor, s.found)
	}
}

// Found returns the number of transactions emitted so far.
func (s *Scanner) Found() int {
	return s.found
}

func (s *Scanner) loadCheckpoint(latest uint64) (uint64, bool) {
	if s.store == nil || s.config.ScanKey == "" {
		return 0, false
	}
	saved, err := s.store.LoadCursor(s.config.ScanKey)
	if err != nil {
		log.Warn("Failed to load scan checkpoint", "err", err)
		return 0, false
	}
	if saved == 0 || saved > latest {
		return 0, false
	}
	return saved - 1, true
}

func (s *Scanner) saveCheckpoint(lowerBound uint64) {
	if s.store == nil || s.config.ScanKey == "" {
		return
	}
	if err := s.store.SaveCursor(s.config.ScanKey, lowerBound); err != nil {
		log.Warn("Failed to save scan checkpoint", "err", err)
	}
}

func (s *Scanner) clearCheckpoint() {
	if s.store == nil || s.config.ScanKey == "" {
		return
	}
	if err := s.store.ClearCursor(s.config.ScanKey); err != nil {
		log.Warn("Failed to clear scan checkpoint", "err", err)
	}
}

func growChunk(chunk, max uint64) uint64 {
	grown := chunk + chunk/2
	if grown > max {
		return max
	}
	return grown
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

func decayDelay(d, floor time.Duration) time.Duration {
	decayed := time.Duration(float64(d) / 1.5)
	if decayed < floor {
		return floor
	}
	return decayed
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
