package celo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/celomarket/internal/crypto"
	"github.com/alanyoungcy/celomarket/internal/domain"
)

const (
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	marketAddr  = "0x1111111111111111111111111111111111111111"
	tokenAddr   = "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1"
	ownerAddr   = "0x2222222222222222222222222222222222222222"
	testChainID = 44787
)

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

// nodeError is a JSON-RPC error object as ethclient surfaces it.
type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }

// fakeBackend answers contract calls through call and records sent txs.
type fakeBackend struct {
	mu       sync.Mutex
	call     func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	estimate error
	sendErr  error
	sent     []*types.Transaction
	receipts []*types.Receipt // served in order; nil means not yet mined
	head     uint64
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return f.call(msg, block)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(5e8), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	r := f.receipts[0]
	if len(f.receipts) > 1 {
		f.receipts = f.receipts[1:]
	}
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil, false, ethereum.NotFound
	}
	return f.sent[len(f.sent)-1], false, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func newTestClient(b *fakeBackend) *Client {
	return New(b, Config{
		ChainID:            testChainID,
		MarketplaceAddress: marketAddr,
		TokenAddress:       tokenAddr,
		PollInterval:       time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	enc, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, enc...))
}

func TestRevertReason(t *testing.T) {
	assert.Equal(t, "", RevertReason(nil))
	assert.Equal(t, "ERC20: insufficient allowance",
		RevertReason(dataError{msg: "execution reverted", data: revertPayload(t, "ERC20: insufficient allowance")}))
	assert.Equal(t, "already liked",
		RevertReason(errors.New("estimate gas: execution reverted: already liked")))
	assert.Equal(t, "", RevertReason(errors.New("connection refused")))
}

func TestReadEntity_Listing(t *testing.T) {
	out, err := marketplaceABI.Methods["readProduct"].Outputs.Pack(
		common.HexToAddress(ownerAddr), "Lamp", "https://img/lamp.png", "brass", "Lagos",
		big.NewInt(2_500000000000000000), big.NewInt(3), big.NewInt(9),
	)
	require.NoError(t, err)

	var gotTo common.Address
	b := &fakeBackend{call: func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		gotTo = *msg.To
		return out, nil
	}}
	raw, err := newTestClient(b).ReadEntity(context.Background(), domain.EntityListing, 4, "")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(marketAddr), gotTo)

	l, err := domain.DecodeListing(4, raw)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", l.Name)
	assert.Equal(t, uint64(9), l.Likes)
	assert.Equal(t, "2.5", l.DisplayPrice())
}

func TestReadEntity_EmptyReturnIsUnavailable(t *testing.T) {
	b := &fakeBackend{call: func(ethereum.CallMsg, *big.Int) ([]byte, error) { return nil, nil }}
	_, err := newTestClient(b).ReadEntity(context.Background(), domain.EntityListing, 0, "")
	assert.ErrorIs(t, err, domain.ErrReadUnavailable)
}

func TestReadEntity_Comments(t *testing.T) {
	out, err := marketplaceABI.Methods["getComments"].Outputs.Pack([]commentTuple{
		{Commenter: common.HexToAddress(ownerAddr), TimeStamp: big.NewInt(1700000000), Comment: "first"},
		{Commenter: common.HexToAddress(marketAddr), TimeStamp: big.NewInt(1700000100), Comment: "second"},
	})
	require.NoError(t, err)
	b := &fakeBackend{call: func(ethereum.CallMsg, *big.Int) ([]byte, error) { return out, nil }}

	raw, err := newTestClient(b).ReadEntity(context.Background(), domain.EntityComments, 1, "")
	require.NoError(t, err)
	comments, err := domain.DecodeComments(raw)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, int64(1700000100), comments[1].Timestamp)
}

func TestReadEntity_AllowanceTargetsToken(t *testing.T) {
	out, err := erc20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	var msg ethereum.CallMsg
	b := &fakeBackend{call: func(m ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		msg = m
		return out, nil
	}}
	raw, err := newTestClient(b).ReadEntity(context.Background(), domain.EntityAllowance, 0, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(tokenAddr), *msg.To)

	v, err := domain.DecodeUint(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = newTestClient(b).ReadEntity(context.Background(), domain.EntityAllowance, 0, "")
	assert.ErrorIs(t, err, domain.ErrIdentityUnavailable)
}

func TestSubmitOperation_SignsAndSends(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{}
	c := newTestClient(b)

	h, err := c.SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpLike, ListingID: 3}, w)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, h.Hash, tx.Hash().Hex())
	assert.Equal(t, common.HexToAddress(marketAddr), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, marketplaceABI.Methods["like"].ID, tx.Data()[:4])

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Account(), from)
	assert.Equal(t, w.Address(), h.From)
}

func TestSubmitOperation_ApproveTargetsToken(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{}

	_, err = newTestClient(b).SubmitOperation(context.Background(),
		domain.ApproveOperation(marketAddr, big.NewInt(1000)), w)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, common.HexToAddress(tokenAddr), *b.sent[0].To())
	assert.Equal(t, erc20ABI.Methods["approve"].ID, b.sent[0].Data()[:4])
}

func TestSubmitOperation_EstimateRevert(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{estimate: dataError{msg: "execution reverted", data: revertPayload(t, "Product sold out")}}

	_, err = newTestClient(b).SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpBuy, ListingID: 1}, w)
	var sub *domain.SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "Product sold out", sub.Reason)
	assert.Equal(t, "Product sold out", domain.UserMessage(err))
	assert.Empty(t, b.sent)
}

func TestSubmitOperation_NodeRejectionIsVerbatim(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{estimate: nodeError{code: -32000, msg: "insufficient funds for gas * price + value"}}

	_, err = newTestClient(b).SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpBuy, ListingID: 1}, w)
	var sub *domain.SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "insufficient funds for gas * price + value", sub.Reason)
	assert.Equal(t, "insufficient funds for gas * price + value", domain.UserMessage(err))
	assert.Empty(t, b.sent)
}

func TestSubmitOperation_SendRejection(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{sendErr: nodeError{code: -32000, msg: "nonce too low"}}

	_, err = newTestClient(b).SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpLike, ListingID: 1}, w)
	assert.Equal(t, "nonce too low", domain.UserMessage(err))
}

func TestSubmitOperation_TransportFailureUsesFallback(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	b := &fakeBackend{sendErr: errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")}

	_, err = newTestClient(b).SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpLike, ListingID: 1}, w)
	var sub *domain.SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Empty(t, sub.Reason)
	assert.Equal(t, domain.FallbackMessage, domain.UserMessage(err))
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "", RejectionReason(nil))
	assert.Equal(t, "Already liked", RejectionReason(errors.New("execution reverted: Already liked")))
	assert.Equal(t, "nonce too low", RejectionReason(fmt.Errorf("wrapped: %w", nodeError{code: -32000, msg: "nonce too low"})))
	assert.Equal(t, "", RejectionReason(context.DeadlineExceeded))
}

type plainIdentity string

func (p plainIdentity) Address() string { return string(p) }

func TestSubmitOperation_NonSigningIdentity(t *testing.T) {
	b := &fakeBackend{}
	_, err := newTestClient(b).SubmitOperation(context.Background(),
		domain.Operation{Kind: domain.OpLike}, plainIdentity(ownerAddr))
	assert.ErrorIs(t, err, domain.ErrIdentityUnavailable)
	assert.Empty(t, b.sent)
}

func TestAwaitConfirmations(t *testing.T) {
	b := &fakeBackend{
		receipts: []*types.Receipt{nil, nil, {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10), GasUsed: 50_000}},
		head:     11,
	}
	r, err := newTestClient(b).AwaitConfirmations(context.Background(), domain.TxHandle{Hash: "0xabc"}, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), r.BlockNumber)
	assert.Equal(t, uint64(2), r.Confirmations)
	assert.Equal(t, uint64(50_000), r.GasUsed)
}

func TestAwaitConfirmations_RevertReplaysReason(t *testing.T) {
	w, err := crypto.NewWallet(testKey)
	require.NoError(t, err)
	payload := revertPayload(t, "Not enough tokens")
	b := &fakeBackend{
		call: func(_ ethereum.CallMsg, block *big.Int) ([]byte, error) {
			if block == nil {
				return nil, errors.New("unexpected latest-block call")
			}
			return nil, dataError{msg: "execution reverted", data: payload}
		},
		receipts: []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)}},
		head:     5,
	}
	c := newTestClient(b)
	h, err := c.SubmitOperation(context.Background(), domain.Operation{Kind: domain.OpBuy, ListingID: 2}, w)
	require.NoError(t, err)

	_, err = c.AwaitConfirmations(context.Background(), h, 1)
	var ce *domain.ConfirmationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, domain.ErrReverted)
	assert.Equal(t, "Not enough tokens", ce.Reason)
}

func TestAwaitConfirmations_ContextEnds(t *testing.T) {
	b := &fakeBackend{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(b).AwaitConfirmations(ctx, domain.TxHandle{Hash: "0xabc"}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
