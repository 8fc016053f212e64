package domain

import (
	"context"
	"math/big"
	"time"
)

// OperationKind names a state-changing ledger call.
type OperationKind string

const (
	OpApprove OperationKind = "approve"
	OpBuy     OperationKind = "buy"
	OpLike    OperationKind = "like"
	OpUnlike  OperationKind = "unlike"
	OpComment OperationKind = "comment"
)

// Operation is a single write to submit to the ledger.
type Operation struct {
	Kind      OperationKind
	ListingID uint64
	Spender   string   // approve only
	Amount    *big.Int // approve only
	Text      string   // comment only
}

// ApproveOperation builds a token approval for exactly amount.
func ApproveOperation(spender string, amount *big.Int) Operation {
	return Operation{Kind: OpApprove, Spender: spender, Amount: new(big.Int).Set(amount)}
}

// TxHandle identifies a submitted operation.
type TxHandle struct {
	Hash        string
	Kind        OperationKind
	From        string
	SubmittedAt time.Time
}

// Receipt reports an included and confirmed operation. Skipped is set when
// no transaction was needed (standing allowance reuse).
type Receipt struct {
	Hash          string
	BlockNumber   uint64
	Confirmations uint64
	GasUsed       uint64
	Skipped       bool
}

// Identity is a connected account able to sign operations.
type Identity interface {
	Address() string
}

// IdentityProvider exposes the connected identity. PromptConnect asks for
// one; its outcome is observed through later CurrentIdentity calls.
type IdentityProvider interface {
	CurrentIdentity() (Identity, bool)
	PromptConnect(ctx context.Context)
}

// Ledger is the remote service boundary.
type Ledger interface {
	ReadEntity(ctx context.Context, kind EntityKind, id uint64, caller string) ([]any, error)
	SubmitOperation(ctx context.Context, op Operation, from Identity) (TxHandle, error)
	AwaitConfirmations(ctx context.Context, h TxHandle, n uint64) (Receipt, error)
}
