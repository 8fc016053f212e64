// Package celo implements the marketplace ledger on a Celo (EVM) node via
// go-ethereum: contract reads, signed transaction submission and receipt
// polling.
package celo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// gasHeadroomPercent is added on top of the node's gas estimate.
const gasHeadroomPercent = 20

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Signer is an identity that can sign transactions. crypto.Wallet
// satisfies it.
type Signer interface {
	domain.Identity
	Account() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config holds the contract addresses and polling cadence.
type Config struct {
	RPCURL             string
	ChainID            int64
	MarketplaceAddress string
	TokenAddress       string
	PollInterval       time.Duration
}

// Client is a domain.Ledger backed by a marketplace contract and its
// payment token.
type Client struct {
	backend      Backend
	chainID      *big.Int
	marketplace  common.Address
	token        common.Address
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ domain.Ledger = (*Client)(nil)

// Dial connects to the node at cfg.RPCURL and checks it serves cfg.ChainID.
// The returned close function releases the RPC connection.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("celo: dial %s: %w", cfg.RPCURL, err)
	}
	remote, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, nil, fmt.Errorf("celo: chain id: %w", err)
	}
	if remote.Int64() != cfg.ChainID {
		ec.Close()
		return nil, nil, fmt.Errorf("celo: node serves chain %s, configured %d", remote, cfg.ChainID)
	}
	return New(ec, cfg, logger), ec.Close, nil
}

// New wraps an existing backend.
func New(backend Backend, cfg Config, logger *slog.Logger) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Client{
		backend:      backend,
		chainID:      big.NewInt(cfg.ChainID),
		marketplace:  common.HexToAddress(cfg.MarketplaceAddress),
		token:        common.HexToAddress(cfg.TokenAddress),
		pollInterval: poll,
		logger:       logger.With(slog.String("component", "celo")),
	}
}

// MarketplaceAddress is the spender of every purchase approval.
func (c *Client) MarketplaceAddress() string {
	return c.marketplace.Hex()
}

// Health checks the node answers block number queries.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.backend.BlockNumber(ctx); err != nil {
		return fmt.Errorf("celo: block number: %w", err)
	}
	return nil
}

// ReadEntity performs a read-only contract call. An empty return value
// (no contract code yet, node still syncing) yields domain.ErrReadUnavailable.
func (c *Client) ReadEntity(ctx context.Context, kind domain.EntityKind, id uint64, caller string) ([]any, error) {
	var (
		target   = c.marketplace
		contract = marketplaceABI
		method   string
		args     []any
		from     common.Address
	)
	if caller != "" {
		from = common.HexToAddress(caller)
	}

	switch kind {
	case domain.EntityListing:
		method, args = "readProduct", []any{new(big.Int).SetUint64(id)}
	case domain.EntityLikeStatus:
		if caller == "" {
			return nil, fmt.Errorf("celo: read %s: %w", kind, domain.ErrIdentityUnavailable)
		}
		method, args = "likedProduct", []any{new(big.Int).SetUint64(id)}
	case domain.EntityComments:
		method, args = "getComments", []any{new(big.Int).SetUint64(id)}
	case domain.EntityListingCount:
		method = "getProductsLength"
	case domain.EntityAllowance:
		if caller == "" {
			return nil, fmt.Errorf("celo: read %s: %w", kind, domain.ErrIdentityUnavailable)
		}
		target, contract = c.token, erc20ABI
		method, args = "allowance", []any{from, c.marketplace}
	default:
		return nil, fmt.Errorf("celo: unknown entity kind %q", kind)
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("celo: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &target, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("celo: call %s(%d): %w", method, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("celo: call %s(%d): %w", method, id, domain.ErrReadUnavailable)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("celo: unpack %s: %w", method, err)
	}
	if kind == domain.EntityComments {
		return commentRows(values)
	}
	return values, nil
}

// commentTuple mirrors the contract's Comment struct for abi.ConvertType.
type commentTuple struct {
	Commenter common.Address
	TimeStamp *big.Int
	Comment   string
}

func commentRows(values []any) ([]any, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("celo: getComments returned %d values", len(values))
	}
	tuples := *abi.ConvertType(values[0], new([]commentTuple)).(*[]commentTuple)
	rows := make([]any, 0, len(tuples))
	for _, t := range tuples {
		rows = append(rows, []any{t.Commenter, t.TimeStamp, t.Comment})
	}
	return rows, nil
}

// SubmitOperation packs, signs and broadcasts op. A revert during gas
// estimation is reported with its decoded reason and nothing is sent; any
// other node rejection is reported with the node's own message.
func (c *Client) SubmitOperation(ctx context.Context, op domain.Operation, from domain.Identity) (domain.TxHandle, error) {
	signer, ok := from.(Signer)
	if !ok || signer == nil {
		return domain.TxHandle{}, &domain.SubmissionError{
			Op:      op.Kind,
			Message: "Connected identity cannot sign transactions",
			Err:     domain.ErrIdentityUnavailable,
		}
	}
	to, data, err := c.calldata(op)
	if err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{Op: op.Kind, Err: err}
	}
	sender := signer.Account()

	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{Op: op.Kind, Err: fmt.Errorf("celo: nonce: %w", err)}
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{Op: op.Kind, Err: fmt.Errorf("celo: gas price: %w", err)}
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &to, Data: data})
	if err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{
			Op:     op.Kind,
			Reason: RejectionReason(err),
			Err:    fmt.Errorf("celo: estimate gas: %w", err),
		}
	}
	gas += gas * gasHeadroomPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{Op: op.Kind, Err: err}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return domain.TxHandle{}, &domain.SubmissionError{
			Op:     op.Kind,
			Reason: RejectionReason(err),
			Err:    fmt.Errorf("celo: send: %w", err),
		}
	}

	h := domain.TxHandle{
		Hash:        signed.Hash().Hex(),
		Kind:        op.Kind,
		From:        sender.Hex(),
		SubmittedAt: time.Now().UTC(),
	}
	c.logger.Info("transaction sent",
		slog.String("op", string(op.Kind)),
		slog.String("hash", h.Hash),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return h, nil
}

// calldata returns the target contract and encoded input for op.
func (c *Client) calldata(op domain.Operation) (common.Address, []byte, error) {
	idx := new(big.Int).SetUint64(op.ListingID)
	var (
		data []byte
		err  error
	)
	switch op.Kind {
	case domain.OpApprove:
		if op.Amount == nil || !common.IsHexAddress(op.Spender) {
			return common.Address{}, nil, fmt.Errorf("celo: approve needs spender and amount")
		}
		data, err = erc20ABI.Pack("approve", common.HexToAddress(op.Spender), op.Amount)
		return c.token, data, err
	case domain.OpBuy:
		data, err = marketplaceABI.Pack("buyProduct", idx)
	case domain.OpLike:
		data, err = marketplaceABI.Pack("like", idx)
	case domain.OpUnlike:
		data, err = marketplaceABI.Pack("unlike", idx)
	case domain.OpComment:
		data, err = marketplaceABI.Pack("makeComment", idx, op.Text)
	default:
		return common.Address{}, nil, fmt.Errorf("celo: unknown operation %q", op.Kind)
	}
	return c.marketplace, data, err
}

// AwaitConfirmations polls until the transaction's receipt is n blocks
// deep. A failed receipt is replayed at its block to recover the revert
// reason. Transient RPC errors keep the poll going; only ctx ends it.
func (c *Client) AwaitConfirmations(ctx context.Context, h domain.TxHandle, n uint64) (domain.Receipt, error) {
	if n == 0 {
		n = 1
	}
	hash := common.HexToHash(h.Hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
		case err != nil:
			if ctx.Err() != nil {
				return domain.Receipt{}, ctx.Err()
			}
			c.logger.Warn("receipt poll failed", slog.String("hash", h.Hash), slog.String("error", err.Error()))
		case receipt.Status == types.ReceiptStatusFailed:
			return domain.Receipt{}, &domain.ConfirmationError{
				Hash:   h.Hash,
				Reason: c.replayRevert(ctx, hash, receipt.BlockNumber),
				Err:    domain.ErrReverted,
			}
		default:
			head, err := c.backend.BlockNumber(ctx)
			if err == nil && receipt.BlockNumber != nil {
				included := receipt.BlockNumber.Uint64()
				if head >= included && head-included+1 >= n {
					return domain.Receipt{
						Hash:          h.Hash,
						BlockNumber:   included,
						Confirmations: head - included + 1,
						GasUsed:       receipt.GasUsed,
					}, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a reverted transaction as a call at its block
// and returns the decoded reason, or "" if none is available.
func (c *Client) replayRevert(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return ""
	}
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, block)
	return RevertReason(err)
}

// RevertReason extracts a human-readable revert reason from a node error:
// the ABI-encoded Error(string) payload when present, else the text after
// "execution reverted: ".
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	const marker = "execution reverted: "
	msg := err.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		return strings.TrimSpace(msg[i+len(marker):])
	}
	return ""
}

// RejectionReason is RevertReason, falling back to the message of a
// JSON-RPC error returned by the node ("insufficient funds for gas * price
// + value", "nonce too low"). Transport failures carry no rpc.Error and
// yield "".
func RejectionReason(err error) string {
	if reason := RevertReason(err); reason != "" {
		return reason
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return strings.TrimSpace(rpcErr.Error())
	}
	return ""
}
