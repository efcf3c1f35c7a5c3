package stats

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/84hero/oracle-scope/pkg/decoder"
)

// EnrichedTransaction is one historical oracle transaction with its receipt
// data and decoded updates, keyed uniquely by hash.
type EnrichedTransaction struct {
	Hash        common.Hash             `json:"hash"`
	From        common.Address          `json:"from"`
	BlockNumber uint64                  `json:"block_number"`
	GasUsed     uint64                  `json:"gas_used"`
	Updates     []decoder.DecodedUpdate `json:"updates"`
}

// Update is one recorded asset update with the gas share attributed to it.
type Update struct {
	TimestampMs uint64         `json:"timestamp_ms"`
	Value       float64        `json:"value"`
	From        common.Address `json:"from"`
	TxHash      common.Hash    `json:"tx_hash"`
	// GasAttributed is the transaction's gasUsed split evenly across the
	// batch. Real per-update gas is not separable from a batched call, so
	// this is an approximation by construction.
	GasAttributed float64 `json:"gas_attributed"`
}

// UpdaterGas tracks gas spent by one submitter address.
type UpdaterGas struct {
	TotalGas float64 `json:"total_gas"`
	Count    uint64  `json:"count"`
	Average  float64 `json:"average"`
}

// AssetStats holds the per-asset running statistics. Entries are never
// removed within a session; Reset starts a new session.
type AssetStats struct {
	AssetName      string                         `json:"asset_name"`
	UpdateCount    uint64                         `json:"update_count"`
	UniqueUpdaters map[common.Address]struct{}    `json:"-"`
	Updates        []Update                       `json:"updates"`
	TotalGas       float64                        `json:"total_gas"`
	PerUpdaterGas  map[common.Address]*UpdaterGas `json:"per_updater_gas"`
}

// AggregateStats is the network-wide roll-up. It always equals the
// sum/union over all AssetStats.
type AggregateStats struct {
	TotalUpdates        uint64                         `json:"total_updates"`
	TotalUniqueUpdaters int                            `json:"total_unique_updaters"`
	TotalGas            float64                        `json:"total_gas"`
	PerUpdaterGas       map[common.Address]*UpdaterGas `json:"per_updater_gas"`

	uniqueUpdaters map[common.Address]struct{}
}

// Store ingests enriched transactions and maintains live statistics. Inserts
// are idempotent on transaction hash. Reads return copies so the UI layer
// can render at any point without holding the lock.
type Store struct {
	mu        sync.RWMutex
	txSeen    map[common.Hash]struct{}
	assets    map[string]*AssetStats
	aggregate AggregateStats
	onChange  []func()
}

// NewStore initializes an empty statistics store.
func NewStore() *Store {
	return &Store{
		txSeen: make(map[common.Hash]struct{}),
		assets: make(map[string]*AssetStats),
		aggregate: AggregateStats{
			PerUpdaterGas:  make(map[common.Address]*UpdaterGas),
			uniqueUpdaters: make(map[common.Address]struct{}),
		},
	}
}

// Subscribe registers a callback invoked after every mutation. The callback
// runs outside the store lock.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Ingest records one enriched transaction. Returns false without any state
// change when the hash was already ingested or the transaction carries no
// decoded updates.
func (s *Store) Ingest(tx EnrichedTransaction) bool {
	if len(tx.Updates) == 0 {
		return false
	}

	s.mu.Lock()
	if _, dup := s.txSeen[tx.Hash]; dup {
		s.mu.Unlock()
		return false
	}
	s.txSeen[tx.Hash] = struct{}{}

	// Gas is split evenly across the batch.
	gasShare := float64(tx.GasUsed) / float64(len(tx.Updates))

	for _, u := range tx.Updates {
		asset := s.assets[u.AssetName]
		if asset == nil {
			asset = &AssetStats{
				AssetName:      u.AssetName,
				UniqueUpdaters: make(map[common.Address]struct{}),
				PerUpdaterGas:  make(map[common.Address]*UpdaterGas),
			}
			s.assets[u.AssetName] = asset
		}

		asset.UpdateCount++
		asset.TotalGas += gasShare
		asset.UniqueUpdaters[tx.From] = struct{}{}
		asset.Updates = append(asset.Updates, Update{
			TimestampMs:   u.TimestampMs(),
			Value:         u.Value(),
			From:          tx.From,
			TxHash:        tx.Hash,
			GasAttributed: gasShare,
		})
		addUpdaterGas(asset.PerUpdaterGas, tx.From, gasShare)

		s.aggregate.TotalUpdates++
		s.aggregate.TotalGas += gasShare
		s.aggregate.uniqueUpdaters[tx.From] = struct{}{}
		addUpdaterGas(s.aggregate.PerUpdaterGas, tx.From, gasShare)
	}
	s.aggregate.TotalUniqueUpdaters = len(s.aggregate.uniqueUpdaters)

	callbacks := make([]func(), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

func addUpdaterGas(m map[common.Address]*UpdaterGas, from common.Address, gas float64) {
	entry := m[from]
	if entry == nil {
		entry = &UpdaterGas{}
		m[from] = entry
	}
	entry.TotalGas += gas
	entry.Count++
	entry.Average = entry.TotalGas / float64(entry.Count)
}

// Seen reports whether a transaction hash was already ingested.
func (s *Store) Seen(hash common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.txSeen[hash]
	return ok
}

// TransactionCount returns the number of distinct ingested transactions.
func (s *Store) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txSeen)
}

// SnapshotAsset returns a deep copy of one asset's statistics.
func (s *Store) SnapshotAsset(assetName string) (AssetStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[assetName]
	if !ok {
		return AssetStats{}, false
	}
	return copyAssetStats(asset), true
}

// SnapshotAssets returns deep copies of all per-asset statistics, sorted by
// asset name.
func (s *Store) SnapshotAssets() []AssetStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AssetStats, 0, len(s.assets))
	for _, asset := range s.assets {
		out = append(out, copyAssetStats(asset))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AssetName < out[j].AssetName
	})
	return out
}

// SnapshotAggregate returns a deep copy of the network-wide roll-up.
func (s *Store) SnapshotAggregate() AggregateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg := AggregateStats{
		TotalUpdates:        s.aggregate.TotalUpdates,
		TotalUniqueUpdaters: s.aggregate.TotalUniqueUpdaters,
		TotalGas:            s.aggregate.TotalGas,
		PerUpdaterGas:       copyUpdaterGas(s.aggregate.PerUpdaterGas),
	}
	return agg
}

// Reset drops all accumulated state for a new scan session. Subscribers are
// kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.txSeen = make(map[common.Hash]struct{})
	s.assets = make(map[string]*AssetStats)
	s.aggregate = AggregateStats{
		PerUpdaterGas:  make(map[common.Address]*UpdaterGas),
		uniqueUpdaters: make(map[common.Address]struct{}),
	}
	callbacks := make([]func(), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func copyAssetStats(asset *AssetStats) AssetStats {
	out := AssetStats{
		AssetName:      asset.AssetName,
		UpdateCount:    asset.UpdateCount,
		TotalGas:       asset.TotalGas,
		UniqueUpdaters: make(map[common.Address]struct{}, len(asset.UniqueUpdaters)),
		Updates:        make([]Update, len(asset.Updates)),
		PerUpdaterGas:  copyUpdaterGas(asset.PerUpdaterGas),
	}
	for addr := range asset.UniqueUpdaters {
		out.UniqueUpdaters[addr] = struct{}{}
	}
	copy(out.Updates, asset.Updates)
	return out
}

func copyUpdaterGas(m map[common.Address]*UpdaterGas) map[common.Address]*UpdaterGas {
	out := make(map[common.Address]*UpdaterGas, len(m))
	for addr, entry := range m {
		clone := *entry
		out[addr] = &clone
	}
	return out
}
