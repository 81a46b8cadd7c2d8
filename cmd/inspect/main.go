// Command inspect fetches a single transaction and prints the signals the
// classifier derives for a given subject address. Useful for checking how
// a transaction would be interpreted before putting the address under watch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"solana-wallet-watch/internal/classify"
	"solana-wallet-watch/internal/config"
	"solana-wallet-watch/internal/solana"
)

func main() {
	config.LoadEnvFile()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	signature := flag.String("signature", "", "Transaction signature to inspect")
	subject := flag.String("subject", "", "Address to classify the transaction against")
	minTransfer := flag.Float64("min-large-transfer", classify.DefaultMinLargeTransfer, "Large-transfer threshold in SOL")

	flag.Parse()

	logger := log.New(os.Stderr, "[inspect] ", log.LstdFlags)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *signature == "" || *subject == "" {
		logger.Fatal("--signature and --subject are required")
	}
	if err := solana.ValidateAddress(*subject); err != nil {
		logger.Fatalf("Bad subject address: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := solana.NewHTTPClient(*rpcEndpoint)
	tx, err := client.GetTransaction(ctx, *signature)
	if err != nil {
		logger.Fatalf("getTransaction failed: %v", err)
	}
	if tx == nil {
		logger.Fatalf("Transaction %s not found", *signature)
	}

	signals := classify.New(*minTransfer).Classify(tx, *subject)

	out := map[string]interface{}{
		"signature": *signature,
		"subject":   *subject,
		"slot":      tx.Slot,
		"signals":   signals,
	}
	if tx.Meta != nil && tx.Meta.Err != nil {
		out["failed"] = true
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatalf("Encode output: %v", err)
	}

	if len(signals) == 0 {
		fmt.Fprintln(os.Stderr, "no signals matched")
	}
}
