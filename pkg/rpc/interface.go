package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthBackend abstracts the underlying ethclient.Client implementation for easier mocking/testing
type EthBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Provider defines the chain data capability the scanner, value reader and
// session layers consume. Implementations must return errors already passed
// through Classify so callers can branch on the structured kinds.
type Provider interface {
	// LatestBlock retrieves the current chain head number
	LatestBlock(ctx context.Context) (uint64, error)

	// Logs retrieves references to logs emitted by the address in [fromBlock, toBlock]
	Logs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]LogRef, error)

	// TransactionByHash retrieves a transaction, nil if unknown
	TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error)

	// ReceiptByHash retrieves a receipt, nil if unknown
	ReceiptByHash(ctx context.Context, hash common.Hash) (*Receipt, error)

	// CallContract performs a read-only call against the latest block
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// Close releases the underlying connections
	Close()
}
