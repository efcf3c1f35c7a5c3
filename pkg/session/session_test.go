package session

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/84hero/oracle-scope/pkg/decoder"
	"github.com/84hero/oracle-scope/pkg/registry"
	"github.com/84hero/oracle-scope/pkg/rpc"
	"github.com/84hero/oracle-scope/pkg/scanner"
	"github.com/84hero/oracle-scope/pkg/sink"
	"github.com/84hero/oracle-scope/pkg/stats"
	"github.com/84hero/oracle-scope/pkg/values"
)

// MockProvider implements rpc.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) LatestBlock(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockProvider) Logs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]rpc.LogRef, error) {
	args := m.Called(ctx, address, fromBlock, toBlock)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rpc.LogRef), args.Error(1)
}

func (m *MockProvider) TransactionByHash(ctx context.Context, hash common.Hash) (*rpc.Transaction, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.Transaction), args.Error(1)
}

func (m *MockProvider) ReceiptByHash(ctx context.Context, hash common.Hash) (*rpc.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.Receipt), args.Error(1)
}

func (m *MockProvider) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	args := m.Called(ctx, to, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) Close() {
	m.Called()
}

// captureOutput records every delivered batch.
type captureOutput struct {
	sent []stats.EnrichedTransaction
}

func (c *captureOutput) Name() string { return "capture" }
func (c *captureOutput) Send(ctx context.Context, txs []stats.EnrichedTransaction) error {
	c.sent = append(c.sent, txs...)
	return nil
}
func (c *captureOutput) Close() error { return nil }

var testContract = common.HexToAddress("0x035612F8C167E9Ee3b557d87C192ba1d0E33Ca31")

func assetServer(t *testing.T, names string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(names))
	}))
}

func TestRun_FullSession(t *testing.T) {
	assets := assetServer(t, `["BTCUSD"]`)
	defer assets.Close()

	// Calldata and read results packed with the same ABI the session uses.
	codec, err := decoder.NewDefault(registry.New([]string{"BTCUSD"}))
	assert.NoError(t, err)
	calldata, err := codec.PackUpdateCall([]decoder.TemporalNumericValueInput{{
		TemporalNumericValue: decoder.TemporalNumericValue{
			TimestampNs:    1_700_000_000_000_000_000,
			QuantizedValue: big.NewInt(65_000),
		},
		Id: [32]byte(registry.HashAssetID("BTCUSD")),
	}})
	assert.NoError(t, err)
	readResult, err := codec.PackReadResult(decoder.TemporalNumericValue{
		TimestampNs:    1_700_000_001_000_000_000,
		QuantizedValue: big.NewInt(66_000),
	})
	assert.NoError(t, err)

	h1 := common.HexToHash("0x01")
	provider := new(MockProvider)
	provider.On("LatestBlock", mock.Anything).Return(uint64(20), nil)
	provider.On("Logs", mock.Anything, testContract, uint64(0), uint64(20)).Return([]rpc.LogRef{
		{TxHash: h1, BlockNumber: 15},
	}, nil).Once()
	provider.On("TransactionByHash", mock.Anything, h1).Return(&rpc.Transaction{
		Hash:  h1,
		From:  common.HexToAddress("0xa1"),
		Input: calldata,
	}, nil)
	provider.On("ReceiptByHash", mock.Anything, h1).Return(&rpc.Receipt{TxHash: h1, GasUsed: 90000}, nil)
	provider.On("CallContract", mock.Anything, testContract, mock.Anything).Return(readResult, nil)

	capture := &captureOutput{}
	sess := New(Options{
		Contract: testContract,
		Provider: provider,
		AssetURL: assets.URL,
		Outputs:  []sink.Output{capture},
	})

	err = sess.Run(context.Background())
	assert.NoError(t, err)

	state := sess.State()
	assert.Equal(t, StatusDone, state.Status)
	assert.Equal(t, 1, state.TxFound)

	// Stats ingested the decoded transaction
	assert.Equal(t, 1, sess.Stats().TransactionCount())
	asset, ok := sess.Stats().SnapshotAsset("BTCUSD")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), asset.UpdateCount)
	assert.Equal(t, float64(90000), asset.TotalGas)

	// Latest value recorded
	rec, ok := sess.Values().Get(registry.HashAssetID("BTCUSD"))
	assert.True(t, ok)
	assert.True(t, rec.Found)
	assert.Equal(t, int64(66_000), rec.QuantizedValue.Int64())

	// Output delivery
	assert.Len(t, capture.sent, 1)
	assert.Equal(t, h1, capture.sent[0].Hash)
}

func TestRun_SkipsUnrecognizedCalldata(t *testing.T) {
	h1 := common.HexToHash("0x01")
	provider := new(MockProvider)
	provider.On("LatestBlock", mock.Anything).Return(uint64(20), nil)
	provider.On("Logs", mock.Anything, testContract, uint64(0), uint64(20)).Return([]rpc.LogRef{
		{TxHash: h1, BlockNumber: 15},
	}, nil).Once()
	provider.On("TransactionByHash", mock.Anything, h1).Return(&rpc.Transaction{
		Hash:  h1,
		Input: []byte{0xde, 0xad, 0xbe, 0xef},
	}, nil)
	provider.On("ReceiptByHash", mock.Anything, h1).Return(&rpc.Receipt{TxHash: h1, GasUsed: 21000}, nil)

	sess := New(Options{Contract: testContract, Provider: provider})

	err := sess.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StatusDone, sess.State().Status)
	// Counted by the walk, but not ingested
	assert.Equal(t, 1, sess.State().TxFound)
	assert.Equal(t, 0, sess.Stats().TransactionCount())
}

func TestRun_CancelMapsToCancelled(t *testing.T) {
	provider := new(MockProvider)
	provider.On("LatestBlock", mock.Anything).Return(uint64(10_000_000), nil)
	provider.On("Logs", mock.Anything, testContract, mock.Anything, mock.Anything).Return([]rpc.LogRef{}, nil)

	sess := New(Options{
		Contract: testContract,
		Provider: provider,
		Scan:     scanner.Config{InitialChunkSize: 10, MinChunkSize: 10, MaxChunkSize: 10},
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		sess.Cancel()
	}()

	// Cancellation is a normal ending, not an error
	err := sess.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StatusCancelled, sess.State().Status)
}

func TestRun_FatalScanError(t *testing.T) {
	provider := new(MockProvider)
	provider.On("LatestBlock", mock.Anything).Return(uint64(0), errors.New("boom"))

	sess := New(Options{Contract: testContract, Provider: provider})

	err := sess.Run(context.Background())
	assert.Error(t, err)

	state := sess.State()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Error, "boom")
}

func TestRun_RegistryFetchFailureIsNotFatal(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	provider := new(MockProvider)
	provider.On("LatestBlock", mock.Anything).Return(uint64(10), nil)
	provider.On("Logs", mock.Anything, testContract, uint64(0), uint64(10)).Return([]rpc.LogRef{}, nil).Once()

	sess := New(Options{
		Contract: testContract,
		Provider: provider,
		AssetURL: down.URL,
		Values:   values.Config{BatchPause: time.Millisecond, RetryDelay: time.Millisecond},
	})

	err := sess.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StatusDone, sess.State().Status)
	assert.Equal(t, 0, sess.Registry().Len())
}
