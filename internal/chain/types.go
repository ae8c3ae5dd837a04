// Package chain supplies normalized chain data to the scoring pipeline.
//
// The fetcher polls confirmed blocks over JSON-RPC and assembles one
// TransactionData per transaction: the transaction itself, its receipt,
// token transfers reconstructed from receipt logs, and any contracts the
// transaction created. Consumers only read these records.
package chain

import (
	"math/big"
	"time"
)

// TokenStandard classifies a token transfer by the event that produced it.
type TokenStandard string

const (
	StandardERC20   TokenStandard = "erc20"
	StandardERC721  TokenStandard = "erc721"
	StandardERC1155 TokenStandard = "erc1155"
	StandardUnknown TokenStandard = "unknown"
)

// Block carries the block metadata scoring needs.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp time.Time
}

// Transaction is a confirmed transaction as read from the chain.
// To is nil for contract creations.
type Transaction struct {
	Hash                 string
	From                 string
	To                   *string
	Value                *big.Int
	Gas                  *big.Int
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Data                 string // 0x-prefixed calldata
	ChainID              *big.Int
	Error                *string
	RevertReason         *string
	Confirmations        *int
}

// Log is a receipt log entry.
type Log struct {
	Address string
	Topics  []string
	Data    string
}

// Receipt is the execution outcome of a transaction.
type Receipt struct {
	Status            *int
	GasUsed           *big.Int
	CumulativeGasUsed *big.Int
	EffectiveGasPrice *big.Int
	GasPrice          *big.Int
	Logs              []Log
}

// TokenTransfer is a single token movement observed in a transaction.
// Amount is set for fungible transfers, TokenID for NFTs; either may be nil.
type TokenTransfer struct {
	Standard TokenStandard
	From     string
	To       string
	Token    string
	Amount   *big.Int
	TokenID  *big.Int
}

// CreatedContract describes a contract deployed by the transaction.
type CreatedContract struct {
	Address  string
	Bytecode string
}

// TransactionData bundles everything known about one confirmed transaction.
type TransactionData struct {
	Transaction      Transaction
	Receipt          Receipt
	Transfers        []TokenTransfer
	CreatedContracts []CreatedContract
}
