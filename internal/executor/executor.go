package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

const (
	msgConnectWallet = "Connect your wallet to continue"
	msgNotConfirmed  = "Transaction was not confirmed in time"
)

// Executor submits single ledger operations and waits for their
// confirmation. It never retries; a failed submission is returned to the
// caller as-is.
type Executor struct {
	ledger  domain.Ledger
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an Executor. timeout bounds every confirmation wait;
// zero means the wait is bounded only by the caller's context.
func NewExecutor(ledger domain.Ledger, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		ledger:  ledger,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Submit sends op signed by id. A missing identity fails before any
// network call. Every failure is a *domain.SubmissionError.
func (e *Executor) Submit(ctx context.Context, op domain.Operation, id domain.Identity) (domain.TxHandle, error) {
	if id == nil {
		return domain.TxHandle{}, &domain.SubmissionError{
			Op:      op.Kind,
			Message: msgConnectWallet,
			Err:     domain.ErrIdentityUnavailable,
		}
	}

	start := time.Now()
	h, err := e.ledger.SubmitOperation(ctx, op, id)
	if err != nil {
		var sub *domain.SubmissionError
		if !errors.As(err, &sub) {
			err = &domain.SubmissionError{Op: op.Kind, Message: rejectionText(err), Err: err}
		}
		e.logger.Warn("submission failed",
			slog.String("op", string(op.Kind)),
			slog.Uint64("listing_id", op.ListingID),
			slog.String("error", err.Error()),
		)
		return domain.TxHandle{}, err
	}

	e.logger.Info("operation submitted",
		slog.String("op", string(op.Kind)),
		slog.Uint64("listing_id", op.ListingID),
		slog.String("hash", h.Hash),
		slog.Duration("took", time.Since(start)),
	)
	return h, nil
}

// AwaitConfirmation blocks until h is at least n blocks deep. It fails with
// a *domain.ConfirmationError wrapping domain.ErrReverted,
// domain.ErrConfirmationTimeout or domain.ErrAbandoned. Abandoning the wait
// does not affect the remote operation.
func (e *Executor) AwaitConfirmation(ctx context.Context, h domain.TxHandle, n uint64) (domain.Receipt, error) {
	waitCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	r, err := e.ledger.AwaitConfirmations(waitCtx, h, n)
	if err == nil {
		e.logger.Info("operation confirmed",
			slog.String("op", string(h.Kind)),
			slog.String("hash", h.Hash),
			slog.Uint64("block", r.BlockNumber),
			slog.Uint64("confirmations", r.Confirmations),
		)
		return r, nil
	}

	var ce *domain.ConfirmationError
	switch {
	case errors.As(err, &ce):
	case ctx.Err() != nil:
		ce = &domain.ConfirmationError{Hash: h.Hash, Err: fmt.Errorf("%w: %w", domain.ErrAbandoned, ctx.Err())}
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		ce = &domain.ConfirmationError{
			Hash:    h.Hash,
			Message: msgNotConfirmed,
			Err:     fmt.Errorf("%w after %s", domain.ErrConfirmationTimeout, e.timeout),
		}
	default:
		ce = &domain.ConfirmationError{Hash: h.Hash, Err: err}
	}

	e.logger.Warn("confirmation failed",
		slog.String("op", string(h.Kind)),
		slog.String("hash", h.Hash),
		slog.String("error", ce.Error()),
	)
	return domain.Receipt{}, ce
}

// rejectionText is the text shown for a ledger error the ledger did not
// classify itself. Local cancellation keeps the fallback message.
func rejectionText(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ""
	}
	return err.Error()
}
