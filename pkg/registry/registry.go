package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Asset pairs a human-readable asset id with its content-addressed on-chain
// key (keccak-256 over the UTF-8 bytes of the name).
type Asset struct {
	Name   string      `json:"name"`
	IDHash common.Hash `json:"id_hash"`
}

// HashAssetID computes the content-addressed on-chain id for an asset name.
func HashAssetID(name string) common.Hash {
	return crypto.Keccak256Hash([]byte(name))
}

// Registry maps content hashes back to asset names. The reverse lookup is
// best effort: the chain only carries hashes, so names absent from the
// source list stay unresolved. Lifetime is one scan session; build a fresh
// registry per session instead of sharing a module-level cache.
type Registry struct {
	mu     sync.RWMutex
	byHash map[common.Hash]string
}

// New builds a registry from a list of asset names.
func New(names []string) *Registry {
	r := &Registry{byHash: make(map[common.Hash]string, len(names))}
	for _, name := range names {
		r.byHash[HashAssetID(name)] = name
	}
	return r
}

// Add registers one more asset name.
func (r *Registry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[HashAssetID(name)] = name
}

// Resolve returns the asset name for a hash if it is known.
func (r *Registry) Resolve(hash common.Hash) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byHash[hash]
	return name, ok
}

// ResolveOrHex returns the asset name, or the raw hex form of the hash when
// the reverse lookup misses.
func (r *Registry) ResolveOrHex(hash common.Hash) string {
	if name, ok := r.Resolve(hash); ok {
		return name
	}
	return hash.Hex()
}

// Assets returns all known assets sorted by name.
func (r *Registry) Assets() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]Asset, 0, len(r.byHash))
	for hash, name := range r.byHash {
		assets = append(assets, Asset{Name: name, IDHash: hash})
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Name < assets[j].Name
	})
	return assets
}

// Len returns the number of known assets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}

// Fetcher retrieves the asset id list from a REST endpoint. The endpoint is
// expected to answer either a bare JSON array of strings or an object with
// a "data" array.
type Fetcher struct {
	url        string
	httpClient *http.Client
}

// NewFetcher initializes an asset id fetcher.
func NewFetcher(url string) *Fetcher {
	return &Fetcher{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch downloads the asset id list and builds a registry from it.
func (f *Fetcher) Fetch(ctx context.Context) (*Registry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "oracle-scope/v1")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("asset registry status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(body, &names); err == nil {
		return New(names), nil
	}

	var wrapped struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode asset registry response: %w", err)
	}
	return New(wrapped.Data), nil
}
