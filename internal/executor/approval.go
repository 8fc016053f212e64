package executor

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// approvalDepth is the confirmation depth an approval must reach before the
// dependent operation may be submitted.
const approvalDepth = 1

// ApprovalGate makes sure a spending authorization is confirmed before a
// dependent operation is attempted.
type ApprovalGate struct {
	exec   *Executor
	ledger domain.Ledger
	reuse  bool
	logger *slog.Logger
}

// NewApprovalGate creates a gate. With reuseStanding set, an existing
// on-chain allowance that already covers the amount is reused instead of
// submitting a new approval.
func NewApprovalGate(exec *Executor, ledger domain.Ledger, reuseStanding bool, logger *slog.Logger) *ApprovalGate {
	return &ApprovalGate{
		exec:   exec,
		ledger: ledger,
		reuse:  reuseStanding,
		logger: logger.With(slog.String("component", "approval_gate")),
	}
}

// EnsureAllowance approves spender for exactly amount and waits for the
// approval to be included. Any error is terminal for the caller's intent.
func (g *ApprovalGate) EnsureAllowance(ctx context.Context, id domain.Identity, spender string, amount *big.Int) (domain.Receipt, error) {
	if g.reuse && id != nil && g.standingCovers(ctx, id, amount) {
		g.logger.Info("standing allowance reused",
			slog.String("owner", id.Address()),
			slog.String("spender", spender),
			slog.String("amount", amount.String()),
		)
		return domain.Receipt{Skipped: true}, nil
	}

	h, err := g.exec.Submit(ctx, domain.ApproveOperation(spender, amount), id)
	if err != nil {
		return domain.Receipt{}, err
	}
	return g.exec.AwaitConfirmation(ctx, h, approvalDepth)
}

// standingCovers reads the owner's current allowance for the marketplace.
// Read failures fall back to submitting a fresh approval.
func (g *ApprovalGate) standingCovers(ctx context.Context, id domain.Identity, amount *big.Int) bool {
	raw, err := g.ledger.ReadEntity(ctx, domain.EntityAllowance, 0, id.Address())
	if err != nil {
		g.logger.Warn("allowance read failed", slog.String("error", err.Error()))
		return false
	}
	current, err := domain.DecodeUint(raw)
	if err != nil {
		g.logger.Warn("allowance decode failed", slog.String("error", err.Error()))
		return false
	}
	return current.Cmp(amount) >= 0
}
