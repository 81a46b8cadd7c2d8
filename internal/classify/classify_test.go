package classify

import (
	"math"
	"testing"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/solana"
)

const (
	subject  = "SubjWa11etAddr111111111111111111111111111111"
	otherAcc = "CounterpartyAddr1111111111111111111111111111"
	mintAddr = "MintAddr111111111111111111111111111111111111"
	poolAddr = "Poo1Addr111111111111111111111111111111111111"
)

// makeTx builds a transaction with the subject as account 0 and the given
// lamport deltas applied.
func makeTx(subjectDeltaSOL float64, logs []string, instructions []solana.Instruction) *solana.Transaction {
	const start = 100 * solana.LamportsPerSol
	post := uint64(start + int64(subjectDeltaSOL*solana.LamportsPerSol))
	otherPost := uint64(start - int64(subjectDeltaSOL*solana.LamportsPerSol))

	return &solana.Transaction{
		Slot:      250_000_000,
		Signature: "testsig",
		BlockTime: 1_700_000_000,
		Meta: &solana.TransactionMeta{
			LogMessages:  logs,
			PreBalances:  []uint64{start, start},
			PostBalances: []uint64{post, otherPost},
		},
		Message: &solana.TransactionMessage{
			AccountKeys:  []string{subject, otherAcc},
			Instructions: instructions,
		},
	}
}

func withTokenDelta(tx *solana.Transaction, mint string, pre, post float64) *solana.Transaction {
	if pre != 0 {
		tx.Meta.PreTokenBalances = append(tx.Meta.PreTokenBalances,
			solana.TokenBalance{Mint: mint, Owner: subject, Amount: pre, Decimals: 6})
	}
	if post != 0 {
		tx.Meta.PostTokenBalances = append(tx.Meta.PostTokenBalances,
			solana.TokenBalance{Mint: mint, Owner: subject, Amount: post, Decimals: 6})
	}
	return tx
}

func TestClassify_Buy(t *testing.T) {
	// Native -0.05, token +1000: exactly one buy, price 0.00005, and no
	// large_transfer (below threshold).
	tx := withTokenDelta(makeTx(-0.05, nil, []solana.Instruction{
		{ProgramID: RaydiumAMMV4, Accounts: []string{poolAddr}},
	}), mintAddr, 0, 1000)

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d: %+v", len(signals), signals)
	}

	sig := signals[0]
	if sig.Type != domain.SignalBuy {
		t.Fatalf("expected buy, got %s", sig.Type)
	}
	if math.Abs(sig.PricePerUnit-0.00005) > 1e-12 {
		t.Errorf("expected price 0.00005, got %v", sig.PricePerUnit)
	}
	if sig.Mint != mintAddr {
		t.Errorf("expected mint %s, got %s", mintAddr, sig.Mint)
	}
	if sig.Venue != "raydium_amm_v4" {
		t.Errorf("expected raydium venue, got %s", sig.Venue)
	}
	if sig.Confidence != ConfidenceBuySell {
		t.Errorf("expected confidence %v, got %v", ConfidenceBuySell, sig.Confidence)
	}
}

func TestClassify_Sell(t *testing.T) {
	tx := withTokenDelta(makeTx(2.5, nil, nil), mintAddr, 5000, 1000)

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Type != domain.SignalSell {
		t.Fatalf("expected sell, got %s", sig.Type)
	}
	if sig.SolAmount != 2.5 || sig.TokenAmount != 4000 {
		t.Errorf("unexpected amounts: sol=%v token=%v", sig.SolAmount, sig.TokenAmount)
	}
	if sig.Venue != "unknown" {
		t.Errorf("expected unknown venue, got %s", sig.Venue)
	}
	// A sell above the threshold still suppresses large_transfer.
	for _, s := range signals {
		if s.Type == domain.SignalLargeTransfer {
			t.Error("trade must suppress large_transfer")
		}
	}
}

func TestClassify_ZeroTokenDeltaNoTrade(t *testing.T) {
	// Token balance present but unchanged: no divide by zero, no trade.
	tx := withTokenDelta(makeTx(-0.5, nil, nil), mintAddr, 1000, 1000)
	if signals := New(1.0).Classify(tx, subject); len(signals) != 0 {
		t.Fatalf("expected no signals, got %+v", signals)
	}
}

func TestClassify_LargeTransferOutgoing(t *testing.T) {
	// Native -2.0 with no token movement: exactly one outgoing large_transfer.
	tx := makeTx(-2.0, nil, nil)

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Type != domain.SignalLargeTransfer {
		t.Fatalf("expected large_transfer, got %s", sig.Type)
	}
	if sig.Direction != domain.DirectionOutgoing {
		t.Errorf("expected outgoing, got %s", sig.Direction)
	}
	if sig.SolAmount != 2.0 {
		t.Errorf("expected 2.0 SOL, got %v", sig.SolAmount)
	}
	if sig.Counterparty != otherAcc {
		t.Errorf("expected counterparty %s, got %s", otherAcc, sig.Counterparty)
	}
}

func TestClassify_LargeTransferIncoming(t *testing.T) {
	tx := makeTx(5.0, nil, nil)

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Direction != domain.DirectionIncoming {
		t.Errorf("expected incoming, got %s", signals[0].Direction)
	}
}

func TestClassify_BelowThresholdNoTransfer(t *testing.T) {
	tx := makeTx(-0.9, nil, nil)
	if signals := New(1.0).Classify(tx, subject); len(signals) != 0 {
		t.Fatalf("expected no signals, got %+v", signals)
	}
}

func TestClassify_Mint(t *testing.T) {
	// Token-launch program plus an "Instruction: Create" log: exactly one
	// mint referencing the subject's post-balance mint.
	tx := withTokenDelta(makeTx(0, []string{
		"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
		"Program log: Instruction: Create",
	}, []solana.Instruction{
		{ProgramID: TokenLaunchProgram, Accounts: []string{mintAddr}},
	}), mintAddr, 0, 1_000_000_000)

	signals := New(1.0).Classify(tx, subject)

	var mints []domain.Signal
	for _, s := range signals {
		if s.Type == domain.SignalMint {
			mints = append(mints, s)
		}
	}
	if len(mints) != 1 {
		t.Fatalf("expected exactly 1 mint signal, got %d (%+v)", len(mints), signals)
	}
	if mints[0].Mint != mintAddr {
		t.Errorf("expected mint %s, got %s", mintAddr, mints[0].Mint)
	}
	if mints[0].Confidence != ConfidenceMint {
		t.Errorf("expected confidence %v, got %v", ConfidenceMint, mints[0].Confidence)
	}
}

func TestClassify_MintFallbackToInstructionAccount(t *testing.T) {
	// No post balance owned by the subject: mint comes from the launch
	// instruction's first account.
	tx := makeTx(0, []string{"Program log: Instruction: Create"}, []solana.Instruction{
		{ProgramID: TokenLaunchProgram, Accounts: []string{mintAddr, otherAcc}},
	})

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 || signals[0].Type != domain.SignalMint {
		t.Fatalf("expected 1 mint signal, got %+v", signals)
	}
	if signals[0].Mint != mintAddr {
		t.Errorf("expected fallback mint %s, got %s", mintAddr, signals[0].Mint)
	}
}

func TestClassify_PoolCreated(t *testing.T) {
	tx := makeTx(0, []string{"Program log: initialize2: InitializeInstruction2"},
		[]solana.Instruction{
			{ProgramID: RaydiumAMMV4, Accounts: []string{poolAddr, mintAddr, otherAcc}},
		})

	signals := New(1.0).Classify(tx, subject)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Type != domain.SignalPoolCreated {
		t.Fatalf("expected pool_created, got %s", sig.Type)
	}
	if sig.Pool != poolAddr || sig.Mint != mintAddr {
		t.Errorf("unexpected pool/mint: %s/%s", sig.Pool, sig.Mint)
	}
	if sig.Confidence != ConfidencePool {
		t.Errorf("expected confidence %v, got %v", ConfidencePool, sig.Confidence)
	}
}

func TestClassify_PoolCreatedEveryVenue(t *testing.T) {
	// Every AMM in the venue table must classify an initialize as
	// pool_created with its own venue name.
	cases := []struct {
		program string
		venue   string
	}{
		{RaydiumAMMV4, "raydium_amm_v4"},
		{RaydiumCPMM, "raydium_cpmm"},
		{PumpAMM, "pump_amm"},
		{OrcaWhirlpool, "orca_whirlpool"},
		{MeteoraDLMM, "meteora_dlmm"},
	}
	for _, tc := range cases {
		t.Run(tc.venue, func(t *testing.T) {
			tx := makeTx(0, []string{"Program log: Instruction: InitializePool"},
				[]solana.Instruction{
					{ProgramID: tc.program, Accounts: []string{poolAddr, mintAddr}},
				})

			signals := New(1.0).Classify(tx, subject)
			if len(signals) != 1 || signals[0].Type != domain.SignalPoolCreated {
				t.Fatalf("expected 1 pool_created, got %+v", signals)
			}
			if signals[0].Venue != tc.venue {
				t.Errorf("expected venue %s, got %s", tc.venue, signals[0].Venue)
			}
		})
	}
}

func TestClassify_AMMWithoutMarkerNoPool(t *testing.T) {
	// AMM instruction without an initialize marker is a swap, not a pool.
	tx := makeTx(0, []string{"Program log: Instruction: Swap"},
		[]solana.Instruction{
			{ProgramID: RaydiumAMMV4, Accounts: []string{poolAddr, mintAddr}},
		})
	if signals := New(1.0).Classify(tx, subject); len(signals) != 0 {
		t.Fatalf("expected no signals, got %+v", signals)
	}
}

func TestClassify_FailedTransactionSkipped(t *testing.T) {
	tx := makeTx(-5.0, nil, nil)
	tx.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	if signals := New(1.0).Classify(tx, subject); signals != nil {
		t.Fatalf("failed transaction must classify to nothing, got %+v", signals)
	}
}

func TestClassify_NilInputs(t *testing.T) {
	e := New(1.0)
	if e.Classify(nil, subject) != nil {
		t.Error("nil transaction must yield nothing")
	}
	if e.Classify(&solana.Transaction{}, subject) != nil {
		t.Error("transaction without meta must yield nothing")
	}
}

func TestClassify_SubjectNotInAccounts(t *testing.T) {
	tx := makeTx(-2.0, nil, nil)
	// A foreign subject has no balance movement, so nothing fires.
	if signals := New(1.0).Classify(tx, "UnrelatedAddr111111111111111111111111111111"); len(signals) != 0 {
		t.Fatalf("expected no signals, got %+v", signals)
	}
}

func TestClassify_MintAndTradeTogether(t *testing.T) {
	// Creator buys into their own launch: mint and buy in one transaction.
	tx := withTokenDelta(makeTx(-1.5, []string{"Program log: Instruction: Create"},
		[]solana.Instruction{
			{ProgramID: TokenLaunchProgram, Accounts: []string{mintAddr}},
		}), mintAddr, 0, 1_000_000)

	signals := New(1.0).Classify(tx, subject)
	types := map[domain.SignalType]int{}
	for _, s := range signals {
		types[s.Type]++
	}
	if types[domain.SignalMint] != 1 || types[domain.SignalBuy] != 1 {
		t.Fatalf("expected mint+buy, got %+v", types)
	}
	if types[domain.SignalLargeTransfer] != 0 {
		t.Error("trade must suppress large_transfer even above threshold")
	}
}
