package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/txsentinel/internal/chain"
	"github.com/mbd888/txsentinel/internal/config"
	"github.com/mbd888/txsentinel/internal/logging"
	"github.com/mbd888/txsentinel/internal/metrics"
	"github.com/mbd888/txsentinel/internal/pagination"
	"github.com/mbd888/txsentinel/internal/tokens"
)

// tokenLookupLimit bounds concurrent token-metadata reads per transaction.
const tokenLookupLimit = 4

// Conventional addresses some chains use for the native asset in transfer
// lists; both resolve to the configured base token symbol.
var nativeTokenAddresses = map[string]struct{}{
	"0x0000000000000000000000000000000000000000": {},
	"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee": {},
}

// Options configures the scoring service.
type Options struct {
	Enabled           bool
	FeatureVersion    string
	BaseTokenSymbol   string
	BaseTokenDecimals int
	Adapter           Adapter
	Store             Store
	Tokens            tokens.Store
	Registry          *FunctionRegistry
	Logger            *slog.Logger
}

// Service is the scoring orchestrator: it builds the feature payload for one
// transaction, scores it through the configured adapter, normalizes the
// response, and upserts the result. Every failure is contained to the single
// transaction — the ingestion pipeline is never aborted by a scoring error.
type Service struct {
	enabled           bool
	featureVersion    string
	baseTokenSymbol   string
	baseTokenDecimals int
	adapter           Adapter
	store             Store
	tokens            tokens.Store
	registry          *FunctionRegistry
	logger            *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService creates the scoring orchestrator.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewFunctionRegistry()
	}
	featureVersion := opts.FeatureVersion
	if featureVersion == "" {
		featureVersion = config.DefaultFeatureVersion
	}
	baseSymbol := opts.BaseTokenSymbol
	if baseSymbol == "" {
		baseSymbol = "ETH"
	}
	decimals := opts.BaseTokenDecimals
	if decimals <= 0 {
		decimals = tokens.DefaultDecimals
	}

	return &Service{
		enabled:           opts.Enabled,
		featureVersion:    featureVersion,
		baseTokenSymbol:   baseSymbol,
		baseTokenDecimals: decimals,
		adapter:           opts.Adapter,
		store:             opts.Store,
		tokens:            opts.Tokens,
		registry:          registry,
		logger:            logger,
		inflight:          make(map[string]struct{}),
	}
}

// SelectAdapter resolves the adapter per the configured mode: offline always
// uses the rule engine; external requires remote credentials and falls back
// to offline with a warning when they are missing; auto prefers remote when
// credentials are configured and silently uses offline otherwise.
func SelectAdapter(cfg *config.Config, logger *slog.Logger) Adapter {
	switch cfg.AdapterMode {
	case config.ModeOffline:
		logger.Info("risk scoring using offline rules adapter")
		return NewRulesAdapter()
	case config.ModeExternal, config.ModeAuto:
		if !cfg.HasModelCredentials() {
			if cfg.AdapterMode == config.ModeExternal {
				logger.Warn("external adapter selected but missing API key or model name; falling back to offline rules")
			}
			return NewRulesAdapter()
		}
		logger.Info("risk scoring using remote model adapter", "model", cfg.ModelName)
		return NewRemoteAdapter(RemoteAdapterOptions{
			BaseURL:      cfg.ModelBaseURL,
			APIKey:       cfg.ModelAPIKey,
			Model:        cfg.ModelName,
			Organization: cfg.ModelOrg,
			Timeout:      cfg.ModelTimeout,
		})
	}
	return NewRulesAdapter()
}

// AdapterName reports which adapter the service scores with.
func (s *Service) AdapterName() string {
	if s.adapter == nil {
		return ""
	}
	return s.adapter.Name()
}

// Enabled reports whether scoring is active.
func (s *Service) Enabled() bool { return s.enabled }

// ScoreTransaction runs the full pipeline for one confirmed transaction.
// It is a no-op when scoring is disabled and never returns an error to the
// caller: failures are logged with transaction context and the transaction
// is skipped without a persisted record.
func (s *Service) ScoreTransaction(ctx context.Context, block chain.Block, data *chain.TransactionData) {
	if !s.enabled || data == nil {
		return
	}

	txHash := strings.ToLower(data.Transaction.Hash)
	if !s.beginAttempt(txHash) {
		s.logger.Debug("scoring already in flight, skipping", "tx_hash", txHash)
		return
	}
	defer s.endAttempt(txHash)

	ctx = logging.WithTxHash(ctx, txHash)
	metrics.TransactionsObserved.Inc()

	defer func() {
		if r := recover(); r != nil {
			metrics.ScoringFailuresTotal.WithLabelValues("build").Inc()
			logging.L(ctx).Error("risk scoring panicked", "panic", fmt.Sprint(r))
		}
	}()

	payload := s.buildPayload(ctx, block, data)

	requestHash, err := RequestHash(s.featureVersion, payload.TxHash, payload)
	if err != nil {
		metrics.ScoringFailuresTotal.WithLabelValues("hash").Inc()
		logging.L(ctx).Error("failed to hash feature payload", "error", err)
		return
	}

	req := &ScoreRequest{
		FeatureVersion: s.featureVersion,
		RequestHash:    requestHash,
		Transactions:   []RequestTransaction{{TxHash: payload.TxHash, Payload: payload}},
	}

	start := time.Now()
	envelope, err := s.adapter.Score(ctx, req)
	metrics.AdapterRequestDuration.WithLabelValues(s.adapter.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScoringFailuresTotal.WithLabelValues("adapter").Inc()
		logging.L(ctx).Error("risk scoring failed", "adapter", s.adapter.Name(), "error", err)
		return
	}

	normalized := NormalizeEnvelope(envelope, s.featureVersion)
	if len(normalized) == 0 {
		metrics.ScoringFailuresTotal.WithLabelValues("normalize").Inc()
		logging.L(ctx).Warn("model response did not return results")
		return
	}

	score := normalized[0]
	if err := s.store.Upsert(ctx, score); err != nil {
		metrics.ScoringFailuresTotal.WithLabelValues("persist").Inc()
		logging.L(ctx).Error("failed to persist risk score", "error", err)
		return
	}

	metrics.ScoresTotal.WithLabelValues(string(score.Verdict)).Inc()
	logging.L(ctx).Debug("risk score stored", "verdict", score.Verdict, "request_hash", requestHash)
}

// GetScore returns the persisted score for a transaction hash.
func (s *Service) GetScore(ctx context.Context, txHash string) (*NormalizedScore, error) {
	return s.store.GetByTxHash(ctx, strings.ToLower(txHash))
}

// ListScores returns recent scores, newest first.
func (s *Service) ListScores(ctx context.Context, verdict Verdict, limit int, cursor *pagination.Cursor) ([]*NormalizedScore, error) {
	return s.store.ListRecent(ctx, verdict, limit, cursor)
}

func (s *Service) beginAttempt(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[txHash]; busy {
		return false
	}
	s.inflight[txHash] = struct{}{}
	return true
}

func (s *Service) endAttempt(txHash string) {
	s.mu.Lock()
	delete(s.inflight, txHash)
	s.mu.Unlock()
}

// buildPayload assembles the feature payload from raw chain data. Enrichment
// is strictly best-effort: any gap degrades to an absent field.
func (s *Service) buildPayload(ctx context.Context, block chain.Block, data *chain.TransactionData) *FeaturePayload {
	tx := data.Transaction
	receipt := data.Receipt
	sender := strings.ToLower(tx.From)

	decoded := s.registry.Decode(tx.Data, bigOrZero(tx.Value))

	transfers := make([]PayloadTransfer, 0, len(data.Transfers))
	for _, t := range data.Transfers {
		to := strings.ToLower(t.To)
		direction := "outbound"
		if to == sender {
			direction = "inbound"
		}
		pt := PayloadTransfer{
			Standard:  string(t.Standard),
			From:      strings.ToLower(t.From),
			To:        to,
			Token:     strings.ToLower(t.Token),
			Direction: direction,
		}
		if t.Amount != nil {
			pt.Amount = t.Amount.String()
		}
		if t.TokenID != nil {
			pt.TokenID = t.TokenID.String()
		}
		transfers = append(transfers, pt)
	}

	symbols := s.lookupTokenSymbols(ctx, collectTokenAddresses(data.Transfers, decoded))

	var meta *SwapMetadata
	var decodedParams []DecodedParam
	if decoded != nil {
		meta = decoded.Metadata
		decodedParams = decoded.Params
	}
	dexRoute := buildDexRoute(sender, data.Transfers, meta, symbols)
	flashLoan := DetectFlashLoan(receipt.Logs)

	var contractMeta *ContractMetadata
	if tx.To == nil && len(data.CreatedContracts) > 0 {
		contractMeta = &ContractMetadata{}
		if bytecode := data.CreatedContracts[0].Bytecode; bytecode != "" {
			ref := fmt.Sprintf("hash:%d", len(bytecode))
			contractMeta.BytecodeHash = &ref
		}
	}

	return BuildPayload(PayloadInput{
		ChainID:              hexChainID(tx.ChainID),
		BlockNumber:          fmt.Sprintf("0x%x", block.Number),
		BlockTimestamp:       block.Timestamp.UTC().Format(time.RFC3339),
		TxHash:               strings.ToLower(tx.Hash),
		From:                 tx.From,
		To:                   tx.To,
		Value:                bigOrZero(tx.Value),
		Gas:                  bigString(tx.Gas),
		GasPrice:             bigString(tx.GasPrice),
		MaxFeePerGas:         bigString(tx.MaxFeePerGas),
		MaxPriorityFeePerGas: bigString(tx.MaxPriorityFeePerGas),
		Data:                 tx.Data,
		DecodedParams:        decodedParams,
		TokenTransfers:       transfers,
		IsContractCreation:   tx.To == nil,
		ContractMetadata:     contractMeta,
		AddressMetadata:      AddressMetadata{From: &AddressInfo{}, To: &AddressInfo{}},
		DexRoute:             dexRoute,
		FlashLoan:            flashLoan,
		ReceiptStatus:        receipt.Status,
		GasUsed:              bigString(receipt.GasUsed),
		CumulativeGasUsed:    bigString(receipt.CumulativeGasUsed),
		EffectiveGasPrice:    bigString(receipt.EffectiveGasPrice),
		FeePaid:              computeFeePaid(&receipt),
		Error:                tx.Error,
		RevertReason:         tx.RevertReason,
		Confirmations:        tx.Confirmations,
		Logs:                 receipt.Logs,
	})
}

// lookupTokenSymbols resolves symbols for every unique token address in the
// transaction. Lookups run concurrently and are best-effort: a failed or
// missing lookup leaves the token out of the map, and the route summary
// falls back to a shortened address.
func (s *Service) lookupTokenSymbols(ctx context.Context, addresses []string) map[string]string {
	symbols := make(map[string]string, len(addresses))
	if len(addresses) == 0 {
		return symbols
	}

	// Native sentinels resolve locally. Fill them before spawning lookup
	// goroutines: both paths write the same map, and only the goroutines
	// take the lock.
	var remote []string
	for _, address := range addresses {
		if _, native := nativeTokenAddresses[address]; native {
			symbols[address] = s.baseTokenSymbol
			continue
		}
		remote = append(remote, address)
	}
	if len(remote) == 0 || s.tokens == nil {
		return symbols
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(tokenLookupLimit)

	for _, address := range remote {
		g.Go(func() error {
			meta, err := s.tokens.Get(ctx, address)
			if err != nil || meta == nil || meta.Symbol == "" {
				return nil // unknown symbol is a valid answer
			}
			mu.Lock()
			symbols[address] = meta.Symbol
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return symbols
}

func collectTokenAddresses(transfers []chain.TokenTransfer, decoded *DecodedCall) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(address string) {
		address = strings.ToLower(address)
		if address == "" {
			return
		}
		if _, dup := seen[address]; dup {
			return
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}

	for _, t := range transfers {
		add(t.Token)
	}
	if decoded != nil && decoded.Metadata != nil {
		for _, address := range decoded.Metadata.Path {
			add(address)
		}
	}
	return out
}

func hexChainID(chainID *big.Int) string {
	if chainID == nil {
		return "0x0"
	}
	return "0x" + chainID.Text(16)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
