package domain

// SignalType identifies the on-chain behavior a transaction exhibited.
type SignalType string

const (
	SignalMint          SignalType = "mint"
	SignalPoolCreated   SignalType = "pool_created"
	SignalBuy           SignalType = "buy"
	SignalSell          SignalType = "sell"
	SignalLargeTransfer SignalType = "large_transfer"
)

// TransferDirection is the sign of a large transfer relative to the subject.
type TransferDirection string

const (
	DirectionIncoming TransferDirection = "incoming"
	DirectionOutgoing TransferDirection = "outgoing"
)

// Signal is one classified behavior of one transaction for one subject
// address. Immutable once produced.
type Signal struct {
	Type       SignalType
	Subject    string // watched address the classification ran against
	Signature  string // transaction signature (idempotency key)
	Slot       int64
	Confidence float64
	Timestamp  int64 // Unix milliseconds

	// Mint / pool fields.
	Mint string
	Pool string

	// Trade fields (buy/sell).
	Venue        string  // AMM venue name, "unknown" if unmatched
	SolAmount    float64 // absolute SOL moved
	TokenAmount  float64 // absolute token amount moved
	PricePerUnit float64 // SolAmount / TokenAmount

	// Large-transfer fields.
	Direction    TransferDirection
	Counterparty string // other side of the transfer, empty if unresolved
}
