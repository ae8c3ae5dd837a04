// Package chain ingests confirmed transactions from an EVM chain.
//
// The fetcher polls for new blocks, loads each transaction with its
// receipt, extracts token transfers from the receipt logs, and hands the
// assembled TransactionData to the registered handler one transaction at
// a time.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/txsentinel/internal/metrics"
)

// Event signatures for token transfer extraction.
var (
	// Transfer(address,address,uint256) — shared by ERC-20 and ERC-721;
	// the topic count tells them apart.
	transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	// TransferSingle(address,address,address,uint256,uint256)
	transferSingleEventSig = common.HexToHash("0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62")
)

// TransactionHandler receives each confirmed transaction exactly once per
// poll cycle. Handlers must not panic the fetcher; errors are the handler's
// to contain.
type TransactionHandler interface {
	HandleTransaction(ctx context.Context, block Block, data *TransactionData)
}

// FetcherConfig for the block fetcher.
type FetcherConfig struct {
	RPCURL       string
	PollInterval time.Duration
	StartBlock   uint64 // 0 = latest
}

// Fetcher polls an EVM node for new blocks and dispatches transactions.
type Fetcher struct {
	client  *ethclient.Client
	config  FetcherConfig
	handler TransactionHandler
	logger  *slog.Logger

	chainID   *big.Int
	lastBlock uint64

	stop chan struct{}
	done chan struct{}
}

// NewFetcher connects to the RPC endpoint and creates a block fetcher.
func NewFetcher(cfg FetcherConfig, handler TransactionHandler, logger *slog.Logger) (*Fetcher, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}

	return &Fetcher{
		client:  client,
		config:  cfg,
		handler: handler,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start resolves the chain ID and starting block, then begins polling.
func (f *Fetcher) Start(ctx context.Context) error {
	chainID, err := f.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	f.chainID = chainID

	if f.config.StartBlock == 0 {
		block, err := f.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		f.lastBlock = block
	} else {
		f.lastBlock = f.config.StartBlock - 1
	}

	f.logger.Info("block fetcher started",
		"chainId", f.chainID.String(),
		"startBlock", f.lastBlock+1,
		"pollInterval", f.config.PollInterval,
	)

	go f.pollLoop(ctx)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (f *Fetcher) Stop() {
	close(f.stop)
	<-f.done
}

// Ping verifies the RPC connection; used by readiness checks.
func (f *Fetcher) Ping(ctx context.Context) error {
	_, err := f.client.BlockNumber(ctx)
	return err
}

func (f *Fetcher) pollLoop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			if err := f.checkForBlocks(ctx); err != nil {
				f.logger.Error("block check failed", "error", err)
			}
		}
	}
}

func (f *Fetcher) checkForBlocks(ctx context.Context) error {
	currentBlock, err := f.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	// Nothing new
	if currentBlock <= f.lastBlock {
		return nil
	}

	for number := f.lastBlock + 1; number <= currentBlock; number++ {
		if err := f.processBlock(ctx, number, currentBlock); err != nil {
			// Re-attempt this block on the next tick rather than skipping it.
			return fmt.Errorf("failed to process block %d: %w", number, err)
		}
		f.lastBlock = number
		metrics.BlocksFetched.Inc()
	}
	return nil
}

func (f *Fetcher) processBlock(ctx context.Context, number, head uint64) error {
	block, err := f.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("failed to fetch block: %w", err)
	}

	summary := Block{
		Number:    number,
		Hash:      strings.ToLower(block.Hash().Hex()),
		Timestamp: time.Unix(int64(block.Time()), 0).UTC(),
	}

	for _, tx := range block.Transactions() {
		data, err := f.assembleTransaction(ctx, tx, summary, head)
		if err != nil {
			f.logger.Error("failed to assemble transaction",
				"tx", tx.Hash().Hex(), "error", err)
			continue
		}
		f.handler.HandleTransaction(ctx, summary, data)
	}
	return nil
}

// assembleTransaction pairs a transaction with its receipt and extracts
// token transfers and created contracts.
func (f *Fetcher) assembleTransaction(ctx context.Context, tx *types.Transaction, block Block, head uint64) (*TransactionData, error) {
	receipt, err := f.client.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	confirmations := int(head-block.Number) + 1

	out := Transaction{
		Hash:          strings.ToLower(tx.Hash().Hex()),
		From:          strings.ToLower(from.Hex()),
		Value:         tx.Value(),
		Gas:           new(big.Int).SetUint64(tx.Gas()),
		GasPrice:      tx.GasPrice(),
		Data:          hexutil.Encode(tx.Data()),
		ChainID:       f.chainID,
		Confirmations: &confirmations,
	}
	if to := tx.To(); to != nil {
		lowered := strings.ToLower(to.Hex())
		out.To = &lowered
	}
	if tx.Type() == types.DynamicFeeTxType {
		out.MaxFeePerGas = tx.GasFeeCap()
		out.MaxPriorityFeePerGas = tx.GasTipCap()
	}

	data := &TransactionData{
		Transaction: out,
		Receipt:     buildReceipt(receipt, tx),
		Transfers:   ExtractTokenTransfers(receipt.Logs),
	}

	if tx.To() == nil && receipt.ContractAddress != (common.Address{}) {
		created := CreatedContract{Address: strings.ToLower(receipt.ContractAddress.Hex())}
		// Bytecode is enrichment only; a failed read leaves it empty.
		if code, err := f.client.CodeAt(ctx, receipt.ContractAddress, nil); err == nil && len(code) > 0 {
			created.Bytecode = hexutil.Encode(code)
		}
		data.CreatedContracts = append(data.CreatedContracts, created)
	}

	return data, nil
}

// buildReceipt converts a node receipt. Nodes that predate EIP-1559 omit
// effectiveGasPrice; the transaction's legacy gas price is the execution
// price then.
func buildReceipt(receipt *types.Receipt, tx *types.Transaction) Receipt {
	status := int(receipt.Status)
	rec := Receipt{
		Status:            &status,
		GasUsed:           new(big.Int).SetUint64(receipt.GasUsed),
		CumulativeGasUsed: new(big.Int).SetUint64(receipt.CumulativeGasUsed),
		EffectiveGasPrice: receipt.EffectiveGasPrice,
		Logs:              convertLogs(receipt.Logs),
	}
	if rec.EffectiveGasPrice == nil {
		rec.GasPrice = tx.GasPrice()
	}
	return rec
}

func convertLogs(logs []*types.Log) []Log {
	out := make([]Log, 0, len(logs))
	for _, log := range logs {
		topics := make([]string, len(log.Topics))
		for i, topic := range log.Topics {
			topics[i] = strings.ToLower(topic.Hex())
		}
		entry := Log{
			Address: strings.ToLower(log.Address.Hex()),
			Topics:  topics,
		}
		if len(log.Data) > 0 {
			entry.Data = hexutil.Encode(log.Data)
		}
		out = append(out, entry)
	}
	return out
}

// ExtractTokenTransfers pulls ERC-20, ERC-721 and ERC-1155 transfers out of
// receipt logs. Logs that look like transfers but are malformed are skipped.
func ExtractTokenTransfers(logs []*types.Log) []TokenTransfer {
	var out []TokenTransfer
	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		switch log.Topics[0] {
		case transferEventSig:
			if transfer, ok := parseTransferLog(log); ok {
				out = append(out, transfer)
			}
		case transferSingleEventSig:
			if transfer, ok := parseTransferSingleLog(log); ok {
				out = append(out, transfer)
			}
		}
	}
	return out
}

// parseTransferLog handles the shared Transfer signature: three topics is
// ERC-20 (amount in data), four topics is ERC-721 (token id indexed).
func parseTransferLog(log *types.Log) (TokenTransfer, bool) {
	switch len(log.Topics) {
	case 3:
		return TokenTransfer{
			Standard: StandardERC20,
			From:     topicAddress(log.Topics[1]),
			To:       topicAddress(log.Topics[2]),
			Token:    strings.ToLower(log.Address.Hex()),
			Amount:   new(big.Int).SetBytes(log.Data),
		}, true
	case 4:
		return TokenTransfer{
			Standard: StandardERC721,
			From:     topicAddress(log.Topics[1]),
			To:       topicAddress(log.Topics[2]),
			Token:    strings.ToLower(log.Address.Hex()),
			TokenID:  new(big.Int).SetBytes(log.Topics[3].Bytes()),
		}, true
	}
	return TokenTransfer{}, false
}

// parseTransferSingleLog handles ERC-1155 TransferSingle: operator, from and
// to are indexed; id and value are two words of data.
func parseTransferSingleLog(log *types.Log) (TokenTransfer, bool) {
	if len(log.Topics) < 4 || len(log.Data) < 64 {
		return TokenTransfer{}, false
	}
	return TokenTransfer{
		Standard: StandardERC1155,
		From:     topicAddress(log.Topics[2]),
		To:       topicAddress(log.Topics[3]),
		Token:    strings.ToLower(log.Address.Hex()),
		TokenID:  new(big.Int).SetBytes(log.Data[:32]),
		Amount:   new(big.Int).SetBytes(log.Data[32:64]),
	}, true
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}
