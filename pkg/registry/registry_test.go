package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestHashAssetID(t *testing.T) {
	// keccak256("") is a fixed vector
	assert.Equal(t,
		common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
		HashAssetID(""))

	// Hashing is deterministic and name-sensitive
	assert.Equal(t, HashAssetID("BTCUSD"), HashAssetID("BTCUSD"))
	assert.NotEqual(t, HashAssetID("BTCUSD"), HashAssetID("ETHUSD"))
}

func TestRegistry_Resolve(t *testing.T) {
	r := New([]string{"BTCUSD", "ETHUSD"})
	assert.Equal(t, 2, r.Len())

	name, ok := r.Resolve(HashAssetID("BTCUSD"))
	assert.True(t, ok)
	assert.Equal(t, "BTCUSD", name)

	_, ok = r.Resolve(HashAssetID("SOLUSD"))
	assert.False(t, ok)

	r.Add("SOLUSD")
	assert.Equal(t, "SOLUSD", r.ResolveOrHex(HashAssetID("SOLUSD")))

	unknown := HashAssetID("DOGEUSD")
	assert.Equal(t, unknown.Hex(), r.ResolveOrHex(unknown))
}

func TestRegistry_AssetsSorted(t *testing.T) {
	r := New([]string{"ETHUSD", "BTCUSD", "SOLUSD"})
	assets := r.Assets()
	assert.Len(t, assets, 3)
	assert.Equal(t, "BTCUSD", assets[0].Name)
	assert.Equal(t, "ETHUSD", assets[1].Name)
	assert.Equal(t, "SOLUSD", assets[2].Name)
	assert.Equal(t, HashAssetID("BTCUSD"), assets[0].IDHash)
}

func TestFetcher_BareArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["BTCUSD","ETHUSD"]`))
	}))
	defer ts.Close()

	reg, err := NewFetcher(ts.URL).Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
}

func TestFetcher_WrappedArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":["BTCUSD"]}`))
	}))
	defer ts.Close()

	reg, err := NewFetcher(ts.URL).Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Resolve(HashAssetID("BTCUSD"))
	assert.True(t, ok)
}

func TestFetcher_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewFetcher(ts.URL).Fetch(context.Background())
	assert.Error(t, err)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": 42`))
	}))
	defer garbage.Close()

	_, err = NewFetcher(garbage.URL).Fetch(context.Background())
	assert.Error(t, err)
}
