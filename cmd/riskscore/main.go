// Command riskscore looks up the stored AI risk score for a transaction.
//
// Usage:
//
//	DATABASE_URL=postgres://... riskscore 0x<64 hex chars>
//
// Prints the normalized score as JSON. Exits 0 when a score exists,
// 2 when no score has been recorded for the hash, 1 on any other error.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/txsentinel/internal/scoring"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: riskscore <transaction-hash>")
		os.Exit(1)
	}

	txHash := strings.ToLower(os.Args[1])
	if !txHashPattern.MatchString(txHash) {
		fmt.Fprintln(os.Stderr, "transaction hash must be 0x-prefixed 32-byte hex")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	score, err := scoring.NewPostgresStore(db).GetByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, scoring.ErrScoreNotFound) {
			fmt.Fprintf(os.Stderr, "no risk score recorded for %s\n", txHash)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to get risk score: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode risk score: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
