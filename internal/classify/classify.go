// Package classify turns parsed transactions into typed wallet signals.
// Classification is pure pattern matching over instructions, logs and
// balance deltas; it performs no I/O and keeps no state.
package classify

import (
	"strings"
	"time"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/solana"
)

// Well-known program ids.
const (
	// TokenLaunchProgram is the pump.fun bonding-curve program.
	TokenLaunchProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumCPMM  = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"
	// PumpAMM is the pump.fun swap AMM, distinct from the bonding curve.
	PumpAMM       = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	OrcaWhirlpool = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	JupiterV6     = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	MeteoraDLMM   = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

// Per-rule confidence constants. Fixed, not computed: the rules are
// syntactic pattern matches, not statistical estimates.
const (
	ConfidenceMint          = 0.95
	ConfidenceLargeTransfer = 0.95
	ConfidencePool          = 0.90
	ConfidenceBuySell       = 0.85
)

// DefaultMinLargeTransfer is the large-transfer threshold in SOL.
const DefaultMinLargeTransfer = 1.0

// knownVenues maps DEX program ids to venue names. Unmatched programs
// classify as venue "unknown".
var knownVenues = map[string]string{
	TokenLaunchProgram: "pumpfun",
	RaydiumAMMV4:       "raydium_amm_v4",
	RaydiumCPMM:        "raydium_cpmm",
	PumpAMM:            "pump_amm",
	OrcaWhirlpool:      "orca_whirlpool",
	JupiterV6:          "jupiter_v6",
	MeteoraDLMM:        "meteora_dlmm",
}

// ammPrograms are the programs whose initialize instructions mark pool
// creation.
var ammPrograms = map[string]bool{
	RaydiumAMMV4:  true,
	RaydiumCPMM:   true,
	PumpAMM:       true,
	OrcaWhirlpool: true,
	MeteoraDLMM:   true,
}

// createMarkers are log substrings that mark a create/initialize
// instruction. Matched case-sensitively against each log line.
var createMarkers = []string{
	"Instruction: Create",
	"Instruction: InitializeMint",
	"Instruction: Initialize2",
	"Instruction: InitializePool",
	"initialize",
}

// Engine classifies transactions for watched addresses.
type Engine struct {
	minLargeTransfer float64
}

// New creates an engine with the given large-transfer threshold in SOL.
// A non-positive threshold falls back to the default.
func New(minLargeTransfer float64) *Engine {
	if minLargeTransfer <= 0 {
		minLargeTransfer = DefaultMinLargeTransfer
	}
	return &Engine{minLargeTransfer: minLargeTransfer}
}

// Classify runs every rule against the transaction from the subject
// address's point of view. Rules are non-exclusive except that a
// buy/sell suppresses large-transfer for the same native delta. A
// transaction with a recorded execution error yields no signals.
func (e *Engine) Classify(tx *solana.Transaction, subject string) []domain.Signal {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return nil
	}
	if tx.Meta.Err != nil {
		return nil
	}

	ts := tx.BlockTime * 1000
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	base := domain.Signal{
		Subject:   subject,
		Signature: tx.Signature,
		Slot:      tx.Slot,
		Timestamp: ts,
	}

	var signals []domain.Signal

	hasMarker := hasCreateMarker(tx.Meta.LogMessages)

	if hasMarker {
		if sig, ok := e.classifyMint(tx, subject, base); ok {
			signals = append(signals, sig)
		}
		if sig, ok := e.classifyPool(tx, base); ok {
			signals = append(signals, sig)
		}
	}

	nativeDelta := nativeDeltaSOL(tx, subject)
	tokenDelta, tokenMint := largestTokenDelta(tx, subject)

	tradeSeen := false
	if sig, ok := e.classifyTrade(tx, base, nativeDelta, tokenDelta, tokenMint); ok {
		signals = append(signals, sig)
		tradeSeen = true
	}

	if !tradeSeen {
		if sig, ok := e.classifyLargeTransfer(tx, subject, base, nativeDelta); ok {
			signals = append(signals, sig)
		}
	}

	return signals
}

func hasCreateMarker(logs []string) bool {
	for _, line := range logs {
		for _, marker := range createMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// classifyMint fires when the token-launch program appears among the
// instructions. The minted address is taken from the subject's post token
// balances, falling back to the launch instruction's first account.
func (e *Engine) classifyMint(tx *solana.Transaction, subject string, base domain.Signal) (domain.Signal, bool) {
	var launch *solana.Instruction
	for i := range tx.Message.Instructions {
		if tx.Message.Instructions[i].ProgramID == TokenLaunchProgram {
			launch = &tx.Message.Instructions[i]
			break
		}
	}
	if launch == nil {
		return domain.Signal{}, false
	}

	mint := ""
	for _, tb := range tx.Meta.PostTokenBalances {
		if tb.Owner == subject {
			mint = tb.Mint
			break
		}
	}
	if mint == "" && len(launch.Accounts) > 0 {
		mint = launch.Accounts[0]
	}

	sig := base
	sig.Type = domain.SignalMint
	sig.Confidence = ConfidenceMint
	sig.Mint = mint
	sig.Venue = knownVenues[TokenLaunchProgram]
	return sig, true
}

// classifyPool fires on an AMM initialize. Pool address and token mint are
// the instruction's first two accounts, by convention of the inspected
// programs.
func (e *Engine) classifyPool(tx *solana.Transaction, base domain.Signal) (domain.Signal, bool) {
	for _, in := range tx.Message.Instructions {
		if !ammPrograms[in.ProgramID] {
			continue
		}

		sig := base
		sig.Type = domain.SignalPoolCreated
		sig.Confidence = ConfidencePool
		sig.Venue = venueFor(in.ProgramID)
		if len(in.Accounts) > 0 {
			sig.Pool = in.Accounts[0]
		}
		if len(in.Accounts) > 1 {
			sig.Mint = in.Accounts[1]
		}
		return sig, true
	}
	return domain.Signal{}, false
}

// classifyTrade derives buy/sell from the subject's balance deltas. A zero
// token delta emits nothing: there is no trade to price.
func (e *Engine) classifyTrade(tx *solana.Transaction, base domain.Signal, nativeDelta, tokenDelta float64, tokenMint string) (domain.Signal, bool) {
	if tokenDelta == 0 {
		return domain.Signal{}, false
	}

	var sigType domain.SignalType
	switch {
	case nativeDelta < 0 && tokenDelta > 0:
		sigType = domain.SignalBuy
	case nativeDelta > 0 && tokenDelta < 0:
		sigType = domain.SignalSell
	default:
		return domain.Signal{}, false
	}

	sig := base
	sig.Type = sigType
	sig.Confidence = ConfidenceBuySell
	sig.Mint = tokenMint
	sig.SolAmount = abs(nativeDelta)
	sig.TokenAmount = abs(tokenDelta)
	sig.PricePerUnit = abs(nativeDelta) / abs(tokenDelta)
	sig.Venue = scanVenue(tx.Message.Instructions)
	return sig, true
}

// classifyLargeTransfer fires on a native delta at or above the threshold
// that no buy/sell already explains. The counterparty is the non-subject
// account with the largest opposite balance movement, which is what the
// cascade logic watches next.
func (e *Engine) classifyLargeTransfer(tx *solana.Transaction, subject string, base domain.Signal, nativeDelta float64) (domain.Signal, bool) {
	if abs(nativeDelta) < e.minLargeTransfer {
		return domain.Signal{}, false
	}

	sig := base
	sig.Type = domain.SignalLargeTransfer
	sig.Confidence = ConfidenceLargeTransfer
	sig.SolAmount = abs(nativeDelta)
	if nativeDelta < 0 {
		sig.Direction = domain.DirectionOutgoing
	} else {
		sig.Direction = domain.DirectionIncoming
	}
	sig.Counterparty = counterparty(tx, subject, nativeDelta)
	return sig, true
}

// nativeDeltaSOL returns the subject's SOL balance change.
func nativeDeltaSOL(tx *solana.Transaction, subject string) float64 {
	idx := -1
	for i, key := range tx.Message.AccountKeys {
		if key == subject {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return 0
	}
	return (float64(tx.Meta.PostBalances[idx]) - float64(tx.Meta.PreBalances[idx])) / solana.LamportsPerSol
}

// largestTokenDelta returns the subject's biggest per-mint token balance
// change and the mint it belongs to.
func largestTokenDelta(tx *solana.Transaction, subject string) (float64, string) {
	deltas := make(map[string]float64)
	for _, tb := range tx.Meta.PostTokenBalances {
		if tb.Owner == subject {
			deltas[tb.Mint] += tb.Amount
		}
	}
	for _, tb := range tx.Meta.PreTokenBalances {
		if tb.Owner == subject {
			deltas[tb.Mint] -= tb.Amount
		}
	}

	var best float64
	var bestMint string
	for mint, d := range deltas {
		if abs(d) > abs(best) {
			best = d
			bestMint = mint
		}
	}
	return best, bestMint
}

// counterparty picks the non-subject account whose native balance moved
// most in the direction opposite the subject's.
func counterparty(tx *solana.Transaction, subject string, nativeDelta float64) string {
	var best float64
	var bestKey string
	for i, key := range tx.Message.AccountKeys {
		if key == subject || i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			continue
		}
		d := float64(tx.Meta.PostBalances[i]) - float64(tx.Meta.PreBalances[i])
		// Opposite sign to the subject's movement.
		if nativeDelta < 0 && d > best {
			best = d
			bestKey = key
		} else if nativeDelta > 0 && d < best {
			best = d
			bestKey = key
		}
	}
	return bestKey
}

func scanVenue(instructions []solana.Instruction) string {
	for _, in := range instructions {
		if venue, ok := knownVenues[in.ProgramID]; ok {
			return venue
		}
	}
	return "unknown"
}

func venueFor(programID string) string {
	if v, ok := knownVenues[programID]; ok {
		return v
	}
	return "unknown"
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
