package chainlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultListURL serves the community-maintained EVM chain list.
const DefaultListURL = "https://chainid.network/chains_mini.json"

// Descriptor resolves a numeric chain id to a display name and an ordered
// RPC endpoint list. Immutable once resolved; looked up once per scan session.
type Descriptor struct {
	ChainID      uint64
	Name         string
	RPCEndpoints []string
}

// ErrChainNotFound is returned when a chain id is in neither the remote
// list nor the preset registry.
type ErrChainNotFound struct {
	ChainID uint64
}

func (e *ErrChainNotFound) Error() string {
	return fmt.Sprintf("chain id %d not found in chain list", e.ChainID)
}

// Registry looks chains up against the public chain list, caching the list
// for the lifetime of the registry. Presets act as an offline fallback.
type Registry struct {
	listURL    string
	httpClient *http.Client

	mu     sync.Mutex
	cached map[uint64]Descriptor
}

// NewRegistry initializes a chain registry. An empty listURL selects the
// default public list.
func NewRegistry(listURL string) *Registry {
	if listURL == "" {
		listURL = DefaultListURL
	}
	return &Registry{
		listURL: listURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type chainEntry struct {
	Name    string   `json:"name"`
	ChainID uint64   `json:"chainId"`
	RPC     []string `json:"rpc"`
}

// Lookup resolves a chain id. The remote list is fetched on first use; if
// the fetch fails, built-in presets are consulted before giving up.
func (r *Registry) Lookup(ctx context.Context, chainID uint64) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil {
		chains, err := r.fetchList(ctx)
		if err != nil {
			if preset, ok := Preset(chainID); ok {
				return preset, nil
			}
			return Descriptor{}, fmt.Errorf("fetch chain list: %w", err)
		}
		r.cached = chains
	}

	if desc, ok := r.cached[chainID]; ok {
		return desc, nil
	}
	if preset, ok := Preset(chainID); ok {
		return preset, nil
	}
	return Descriptor{}, &ErrChainNotFound{ChainID: chainID}
}

func (r *Registry) fetchList(ctx context.Context) (map[uint64]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.listURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "oracle-scope/v1")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chain list status %d", resp.StatusCode)
	}

	var entries []chainEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}

	chains := make(map[uint64]Descriptor, len(entries))
	for _, entry := range entries {
		chains[entry.ChainID] = Descriptor{
			ChainID:      entry.ChainID,
			Name:         entry.Name,
			RPCEndpoints: usableEndpoints(entry.RPC),
		}
	}
	return chains, nil
}

// usableEndpoints drops websocket URLs and templated entries that require an
// API key placeholder to be filled in.
func usableEndpoints(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.Contains(u, "${") {
			continue
		}
		if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			continue
		}
		out = append(out, u)
	}
	return out
}
