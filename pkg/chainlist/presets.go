package chainlist

import "sync"

var (
	presets = make(map[uint64]Descriptor)
	mu      sync.RWMutex
)

// RegisterPreset adds a chain descriptor to the offline fallback registry.
func RegisterPreset(d Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	presets[d.ChainID] = d
}

// Preset retrieves a descriptor from the fallback registry by chain id.
func Preset(chainID uint64) (Descriptor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := presets[chainID]
	return d, ok
}

// Built-in presets
func init() {
	RegisterPreset(Descriptor{
		ChainID: 1,
		Name:    "Ethereum Mainnet",
		RPCEndpoints: []string{
			"https://eth.llamarpc.com",
			"https://rpc.ankr.com/eth",
		},
	})

	RegisterPreset(Descriptor{
		ChainID: 137,
		Name:    "Polygon Mainnet",
		RPCEndpoints: []string{
			"https://polygon-rpc.com",
			"https://rpc.ankr.com/polygon",
		},
	})

	RegisterPreset(Descriptor{
		ChainID: 42161,
		Name:    "Arbitrum One",
		RPCEndpoints: []string{
			"https://arb1.arbitrum.io/rpc",
		},
	})
}
