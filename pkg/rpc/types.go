package rpc

import (
	"github.com/ethereum/go-ethereum/common"
)

// Transaction is the provider-owned view of an on-chain transaction.
// Only the fields the scanner and decoder actually read are carried.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address // nil signals contract creation
	BlockNumber uint64
	Input       []byte
}

// IsCreation reports whether the transaction deployed a contract.
func (t *Transaction) IsCreation() bool {
	return t.To == nil
}

// Receipt carries the receipt fields used for gas attribution and
// creation detection. Paired 1:1 with Transaction by hash.
type Receipt struct {
	TxHash          common.Hash
	ContractAddress common.Address // zero unless the transaction created a contract
	GasUsed         uint64
}

// LogRef is a lightweight reference to a log entry: enough to locate
// the emitting transaction without carrying topics or data.
type LogRef struct {
	TxHash      common.Hash
	BlockNumber uint64
	Index       uint
}
