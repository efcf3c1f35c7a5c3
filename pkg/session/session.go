package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/84hero/oracle-scope/pkg/chainlist"
	"github.com/84hero/oracle-scope/pkg/decoder"
	"github.com/84hero/oracle-scope/pkg/registry"
	"github.com/84hero/oracle-scope/pkg/rpc"
	"github.com/84hero/oracle-scope/pkg/scanner"
	"github.com/84hero/oracle-scope/pkg/sink"
	"github.com/84hero/oracle-scope/pkg/stats"
	"github.com/84hero/oracle-scope/pkg/storage"
	"github.com/84hero/oracle-scope/pkg/values"
)

// Status is the lifecycle phase of one scan session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// State is a point-in-time snapshot of the session for status reporting.
type State struct {
	Status    Status `json:"status"`
	ChainName string `json:"chain_name"`
	Contract  string `json:"contract"`
	Message   string `json:"message"`
	Block     uint64 `json:"block"`
	ChunkSize uint64 `json:"chunk_size"`
	TxFound   int    `json:"tx_found"`
	Error     string `json:"error,omitempty"`
}

// Options wires a session. Endpoints overrides the chain-list lookup;
// Provider overrides endpoint dialing entirely (testing/DI). Store and
// Outputs are optional.
type Options struct {
	ChainID  uint64
	Contract common.Address

	Endpoints []string
	QPS       float64
	Provider  rpc.Provider

	ChainListURL string
	AssetURL     string
	ABIURL       string

	Scan   scanner.Config
	Values values.Config

	Store   storage.Persistence
	Outputs []sink.Output
}

// Session runs one full activity scan: resolve the chain, enumerate the
// contract's historical update transactions, aggregate stats, and poll the
// latest on-chain values. The stats store and value records stay readable
// after the session ends, whatever way it ended; cancellation and fatal
// errors both leave partial results in place.
type Session struct {
	opts Options

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc

	chain chainlist.Descriptor
	reg   *registry.Registry
	store *stats.Store
	vals  *values.Scanner
}

func New(opts Options) *Session {
	return &Session{
		opts:  opts,
		store: stats.NewStore(),
		state: State{Status: StatusIdle, Contract: opts.Contract.Hex()},
	}
}

// Stats returns the session's aggregation store.
func (s *Session) Stats() *stats.Store { return s.store }

// Values returns the latest-value scanner, nil before Run has started it.
func (s *Session) Values() *values.Scanner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals
}

// Registry returns the asset registry, nil before Run has resolved it.
func (s *Session) Registry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg
}

// Chain returns the resolved chain descriptor.
func (s *Session) Chain() chainlist.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain
}

// State returns a status snapshot.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Cancel stops a running session. Results gathered so far stay available.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the session to completion. Cancellation is a normal ending
// (nil return, status "cancelled"); only setup and endpoint-stability
// problems are errors.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state.Status == StatusRunning {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.cancel = cancel
	s.state.Status = StatusRunning
	s.state.Message = "Resolving chain"
	s.mu.Unlock()

	err := s.run(ctx)
	return s.finish(err)
}

func (s *Session) run(ctx context.Context) error {
	provider, err := s.resolveProvider(ctx)
	if err != nil {
		return err
	}
	if s.opts.Provider == nil {
		defer provider.Close()
	}

	s.setMessage("Fetching asset registry")
	reg := s.fetchRegistry(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	codec, err := s.buildDecoder(ctx, reg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.reg = reg
	s.vals = values.New(provider, codec, s.valuesConfig())
	vals := s.vals
	s.mu.Unlock()

	scanCfg := s.opts.Scan
	scanCfg.Contract = s.opts.Contract
	scan := scanner.New(provider, s.opts.Store, scanCfg)
	scan.SetHandler(s.handleTransaction(codec))
	scan.SetProgress(s.handleProgress)

	// The value poll runs alongside the log scan; its failures never abort
	// the session, each asset's record carries its own outcome.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := vals.Run(ctx, reg.Assets()); err != nil && ctx.Err() == nil {
			log.Warn("Value scan ended with error", "err", err)
		}
	}()

	s.setMessage("Scanning contract history")
	scanErr := scan.Run(ctx)
	wg.Wait()
	return scanErr
}

func (s *Session) resolveProvider(ctx context.Context) (rpc.Provider, error) {
	if s.opts.Provider != nil {
		return s.opts.Provider, nil
	}

	endpoints := s.opts.Endpoints
	if len(endpoints) == 0 {
		chains := chainlist.NewRegistry(s.opts.ChainListURL)
		desc, err := chains.Lookup(ctx, s.opts.ChainID)
		if err != nil {
			return nil, fmt.Errorf("resolve chain %d: %w", s.opts.ChainID, err)
		}
		s.mu.Lock()
		s.chain = desc
		s.state.ChainName = desc.Name
		s.mu.Unlock()
		endpoints = desc.RPCEndpoints
	}

	provider, err := rpc.NewFailover(ctx, endpoints, s.opts.QPS)
	if err != nil {
		return nil, fmt.Errorf("connect chain %d: %w", s.opts.ChainID, err)
	}
	return provider, nil
}

// fetchRegistry is best effort: with no asset list, updates are keyed by
// their raw hashes and the dashboard still works.
func (s *Session) fetchRegistry(ctx context.Context) *registry.Registry {
	if s.opts.AssetURL == "" {
		return registry.New(nil)
	}
	reg, err := registry.NewFetcher(s.opts.AssetURL).Fetch(ctx)
	if err != nil {
		log.Warn("Asset registry fetch failed, using raw ids", "err", err)
		return registry.New(nil)
	}
	log.Info("Asset registry loaded", "assets", reg.Len())
	return reg
}

func (s *Session) buildDecoder(ctx context.Context, reg *registry.Registry) (*decoder.Decoder, error) {
	if s.opts.ABIURL == "" {
		return decoder.NewDefault(reg)
	}
	abiJSON, err := decoder.FetchInterface(ctx, s.opts.ABIURL)
	if err != nil {
		return nil, fmt.Errorf("fetch abi: %w", err)
	}
	return decoder.NewFromJSON(abiJSON, reg)
}

func (s *Session) valuesConfig() values.Config {
	cfg := s.opts.Values
	cfg.Contract = s.opts.Contract
	return cfg
}

// handleTransaction decodes each discovered transaction and feeds the
// recognized updates into the stats store and the configured outputs.
func (s *Session) handleTransaction(codec *decoder.Decoder) scanner.Handler {
	return func(ctx context.Context, res scanner.Result) error {
		call, ok := codec.Decode(res.Tx.Input)
		if !ok {
			// A log from the contract without recognizable update calldata
			// (proxy admin calls, other methods) still counts as seen.
			log.Debug("Skipping unrecognized transaction", "tx", res.Tx.Hash)
			return nil
		}

		enriched := stats.EnrichedTransaction{
			Hash:        res.Tx.Hash,
			From:        res.Tx.From,
			BlockNumber: res.Tx.BlockNumber,
			GasUsed:     res.Receipt.GasUsed,
			Updates:     call.Updates,
		}
		if !s.store.Ingest(enriched) {
			return nil
		}

		for _, out := range s.opts.Outputs {
			if err := out.Send(ctx, []stats.EnrichedTransaction{enriched}); err != nil {
				log.Warn("Output delivery failed", "output", out.Name(), "tx", enriched.Hash, "err", err)
			}
		}
		return nil
	}
}

func (s *Session) handleProgress(cursor scanner.Cursor, txFound int) {
	s.mu.Lock()
	s.state.Block = cursor.Block
	s.state.ChunkSize = cursor.ChunkSize
	s.state.TxFound = txFound
	s.state.Message = fmt.Sprintf("Scanned down to block %d (%d update txs)", cursor.Block, txFound)
	s.mu.Unlock()
}

func (s *Session) setMessage(msg string) {
	s.mu.Lock()
	s.state.Message = msg
	s.mu.Unlock()
}

func (s *Session) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil

	switch {
	case err == nil:
		s.state.Status = StatusDone
		s.state.Message = fmt.Sprintf("Scan complete (%d update txs)", s.state.TxFound)
		return nil
	case errors.Is(err, context.Canceled):
		s.state.Status = StatusCancelled
		s.state.Message = "Scan cancelled"
		return nil
	default:
		s.state.Status = StatusFailed
		s.state.Error = err.Error()
		s.state.Message = "Scan failed"
		return err
	}
}
