package solana

import "context"

// RPCClient defines the Solana HTTP JSON-RPC interface the watcher needs.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns (nil, nil) if the transaction is not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves recent signatures for an address,
	// newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)
}

// Transaction represents a fetched Solana transaction with everything the
// classification engine needs: logs, lamport balances, token balances and
// instructions with program ids and account lists already resolved to
// base58 strings.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err         interface{}
	LogMessages []string

	// Lamport balances indexed parallel to Message.AccountKeys.
	PreBalances  []uint64
	PostBalances []uint64

	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is one SPL token account balance snapshot.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       float64 // UI amount (decimals applied)
	Decimals     int
}

// TransactionMessage contains the parsed message. Instruction program ids
// and accounts are resolved from indices into canonical base58 strings at
// this boundary; nothing downstream handles index or object forms.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []Instruction
}

// Instruction is a top-level instruction with resolved addresses.
type Instruction struct {
	ProgramID string
	Accounts  []string
}
