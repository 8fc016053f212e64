package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// Lane groups the intents that must never overlap on one listing.
type Lane string

const (
	LaneProduct  Lane = "product"  // purchase, like, unlike
	LaneComments Lane = "comments" // comment
)

// LaneFor returns the lane that serves kind.
func LaneFor(kind domain.IntentKind) Lane {
	if kind == domain.IntentComment {
		return LaneComments
	}
	return LaneProduct
}

// IntentChannel is the signal bus channel carrying a listing's intent
// transitions.
func IntentChannel(listingID uint64) string {
	return fmt.Sprintf("ch:intent:%d", listingID)
}

const (
	labelApproving  = "Approving ..."
	labelConfirming = "Waiting..."
	labelRefreshing = "Refreshing..."
	labelConnect    = "Connect your wallet"

	msgEmptyComment = "Comment cannot be empty"
	msgLaneBusy     = "Another action on this listing is in progress"

	subscriberBuffer = 32
)

var submitLabels = map[domain.IntentKind]string{
	domain.IntentPurchase: "Purchasing...",
	domain.IntentLike:     "Liking product",
	domain.IntentUnlike:   "Unliking product",
	domain.IntentComment:  "Sending...",
}

var intentOps = map[domain.IntentKind]domain.OperationKind{
	domain.IntentPurchase: domain.OpBuy,
	domain.IntentLike:     domain.OpLike,
	domain.IntentUnlike:   domain.OpUnlike,
	domain.IntentComment:  domain.OpComment,
}

// Submitter sends single operations and waits for their confirmation.
// executor.Executor satisfies it.
type Submitter interface {
	Submit(ctx context.Context, op domain.Operation, id domain.Identity) (domain.TxHandle, error)
	AwaitConfirmation(ctx context.Context, h domain.TxHandle, n uint64) (domain.Receipt, error)
}

// AllowanceGate confirms a spending authorization. executor.ApprovalGate
// satisfies it.
type AllowanceGate interface {
	EnsureAllowance(ctx context.Context, id domain.Identity, spender string, amount *big.Int) (domain.Receipt, error)
}

// Observer is told about every intent transition, in order.
type Observer interface {
	Observe(ctx context.Context, op domain.PendingOperation)
}

// OrchestratorConfig holds the tunables shared by every orchestrator.
type OrchestratorConfig struct {
	// Spender is the marketplace address approved for purchases.
	Spender string
	// MinConfirmations is the depth awaited for the main operation.
	MinConfirmations uint64
	// LockTTL bounds how long an intent lock may be held.
	LockTTL time.Duration
}

// Deps are the collaborators shared by every orchestrator. Locks, Bus,
// Journal and Observer are optional.
type Deps struct {
	Reader   *ListingReader
	Executor Submitter
	Gate     AllowanceGate
	Identity domain.IdentityProvider
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Journal  domain.IntentJournal
	Observer Observer
	Config   OrchestratorConfig
	Logger   *slog.Logger
}

// ActionOrchestrator drives the intents of one lane of one listing. It owns
// a single PendingOperation; a trigger while it is in use is rejected with
// domain.ErrIntentInFlight.
type ActionOrchestrator struct {
	listingID uint64
	lane      Lane
	deps      *Deps
	logger    *slog.Logger

	mu      sync.Mutex
	busy    bool
	state   domain.PendingOperation
	last    domain.PendingOperation
	draft   string
	actor   string
	started time.Time
	subs    map[int]chan domain.PendingOperation
	nextSub int
}

// NewActionOrchestrator creates an idle orchestrator.
func NewActionOrchestrator(listingID uint64, lane Lane, deps *Deps) *ActionOrchestrator {
	return &ActionOrchestrator{
		listingID: listingID,
		lane:      lane,
		deps:      deps,
		logger: deps.Logger.With(
			slog.String("component", "orchestrator"),
			slog.Uint64("listing_id", listingID),
			slog.String("lane", string(lane)),
		),
		state: domain.PendingOperation{ListingID: listingID, Phase: domain.PhaseIdle},
		subs:  make(map[int]chan domain.PendingOperation),
	}
}

// State returns the current PendingOperation.
func (o *ActionOrchestrator) State() domain.PendingOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Last returns the most recent terminal PendingOperation, if any.
func (o *ActionOrchestrator) Last() domain.PendingOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Subscribe returns a channel receiving every subsequent transition and a
// function to stop receiving. Slow subscribers miss transitions rather
// than stalling the intent.
func (o *ActionOrchestrator) Subscribe() (<-chan domain.PendingOperation, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	ch := make(chan domain.PendingOperation, subscriberBuffer)
	o.subs[id] = ch
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// SetDraft replaces the comment input buffer.
func (o *ActionOrchestrator) SetDraft(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.draft = text
}

// Draft returns the comment input buffer.
func (o *ActionOrchestrator) Draft() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draft
}

// Available reports whether the action for kind can be triggered now: the
// lane is free and every read the intent depends on is ready.
func (o *ActionOrchestrator) Available(ctx context.Context, kind domain.IntentKind) bool {
	if LaneFor(kind) != o.lane {
		return false
	}
	o.mu.Lock()
	busy := o.busy
	o.mu.Unlock()
	if busy {
		return false
	}
	if kind == domain.IntentComment {
		return true
	}
	view, err := o.deps.Reader.Listing(ctx, o.listingID)
	return err == nil && view.Ready()
}

// Purchase approves exactly the listing price for the marketplace, then
// buys the listing.
func (o *ActionOrchestrator) Purchase(ctx context.Context) error {
	return o.trigger(ctx, domain.IntentPurchase)
}

// Like likes the listing as the connected identity.
func (o *ActionOrchestrator) Like(ctx context.Context) error {
	return o.trigger(ctx, domain.IntentLike)
}

// Unlike removes the connected identity's like.
func (o *ActionOrchestrator) Unlike(ctx context.Context) error {
	return o.trigger(ctx, domain.IntentUnlike)
}

// Comment submits the draft buffer as a comment. The buffer is cleared as
// soon as the intent starts, whatever its outcome.
func (o *ActionOrchestrator) Comment(ctx context.Context) error {
	return o.trigger(ctx, domain.IntentComment)
}

// CommentText submits text as a comment. The draft buffer is cleared when
// the intent starts and left alone when the lane is busy.
func (o *ActionOrchestrator) CommentText(ctx context.Context, text string) error {
	return o.run(ctx, domain.IntentComment, &text)
}

// Trigger starts the intent of the given kind.
func (o *ActionOrchestrator) Trigger(ctx context.Context, kind domain.IntentKind) error {
	return o.trigger(ctx, kind)
}

func (o *ActionOrchestrator) trigger(ctx context.Context, kind domain.IntentKind) error {
	return o.run(ctx, kind, nil)
}

// run executes one intent. A nil text takes a comment's body from the draft.
func (o *ActionOrchestrator) run(ctx context.Context, kind domain.IntentKind, body *string) error {
	if _, ok := intentOps[kind]; !ok {
		return fmt.Errorf("orchestrator: unknown intent %q", kind)
	}
	if LaneFor(kind) != o.lane {
		return fmt.Errorf("orchestrator: intent %s does not belong to lane %s", kind, o.lane)
	}
	text, err := o.claim(kind, body)
	if err != nil {
		return err
	}
	defer o.release()

	// Dependent reads happen before any phase change: an unavailable
	// listing disables the action instead of failing it.
	var listing domain.Listing
	if kind == domain.IntentPurchase {
		view, err := o.deps.Reader.Listing(ctx, o.listingID)
		if err != nil {
			return err
		}
		switch view.Status {
		case domain.ViewReady:
			listing = view.Value
		case domain.ViewNotFound:
			return fmt.Errorf("orchestrator: listing %d: %w", o.listingID, domain.ErrNotFound)
		default:
			return fmt.Errorf("orchestrator: listing %d: %w", o.listingID, domain.ErrReadUnavailable)
		}
	}

	o.begin(ctx, kind)

	if kind == domain.IntentComment && strings.TrimSpace(text) == "" {
		return o.fail(ctx, &domain.ValidationError{Message: msgEmptyComment, Err: domain.ErrEmptyComment})
	}

	o.transition(ctx, domain.PhaseCheckingIdentity, "")
	id, ok := o.deps.Identity.CurrentIdentity()
	if !ok {
		o.transition(ctx, domain.PhasePromptingConnect, labelConnect)
		o.deps.Identity.PromptConnect(ctx)
		o.finish(ctx, domain.PhasePromptingConnect, "")
		return domain.ErrIdentityUnavailable
	}
	o.setActor(id.Address())

	unlock, err := o.lock(ctx, id.Address())
	if err != nil {
		return o.fail(ctx, err)
	}
	defer unlock()

	if kind == domain.IntentPurchase {
		o.transition(ctx, domain.PhaseApproving, labelApproving)
		r, err := o.deps.Gate.EnsureAllowance(ctx, id, o.deps.Config.Spender, listing.Price)
		if err != nil {
			return o.fail(ctx, err)
		}
		if !r.Skipped {
			o.addHash(r.Hash)
		}
	}

	o.transition(ctx, domain.PhaseSubmitting, submitLabels[kind])
	op := domain.Operation{Kind: intentOps[kind], ListingID: o.listingID}
	if kind == domain.IntentComment {
		op.Text = strings.TrimSpace(text)
	}
	h, err := o.deps.Executor.Submit(ctx, op, id)
	if err != nil {
		return o.fail(ctx, err)
	}
	o.addHash(h.Hash)

	o.transition(ctx, domain.PhaseConfirming, labelConfirming)
	if _, err := o.deps.Executor.AwaitConfirmation(ctx, h, o.deps.Config.MinConfirmations); err != nil {
		return o.fail(ctx, err)
	}

	o.transition(ctx, domain.PhaseRefreshing, labelRefreshing)
	o.refresh(ctx, kind, id.Address())

	o.transition(ctx, domain.PhaseDone, "")
	o.finish(ctx, domain.PhaseDone, "")
	return nil
}

// claim reserves the orchestrator for one intent. For comments it also
// clears the draft buffer and returns body, or the draft when body is nil.
func (o *ActionOrchestrator) claim(kind domain.IntentKind, body *string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return "", fmt.Errorf("orchestrator: %s on listing %d: %w", kind, o.listingID, domain.ErrIntentInFlight)
	}
	o.busy = true
	if kind != domain.IntentComment {
		return "", nil
	}
	text := o.draft
	if body != nil {
		text = *body
	}
	o.draft = ""
	return text, nil
}

func (o *ActionOrchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
}

func (o *ActionOrchestrator) begin(ctx context.Context, kind domain.IntentKind) {
	o.mu.Lock()
	o.started = time.Now().UTC()
	o.actor = ""
	o.state = domain.PendingOperation{
		ID:        uuid.New().String(),
		ListingID: o.listingID,
		Kind:      kind,
		Phase:     domain.PhaseIdle,
		UpdatedAt: o.started,
	}
	o.mu.Unlock()
	o.logger.InfoContext(ctx, "orchestrator: intent started", slog.String("kind", string(kind)))
}

func (o *ActionOrchestrator) setActor(addr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actor = addr
}

func (o *ActionOrchestrator) addHash(hash string) {
	if hash == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.TxHashes = append(o.state.TxHashes, hash)
}

// transition moves the state machine forward and fans the new state out.
func (o *ActionOrchestrator) transition(ctx context.Context, to domain.Phase, label string) {
	o.mu.Lock()
	from := o.state.Phase
	if !domain.CanTransition(from, to) {
		o.mu.Unlock()
		o.logger.ErrorContext(ctx, "orchestrator: illegal transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return
	}
	o.state.Phase = to
	o.state.Label = label
	o.state.UpdatedAt = time.Now().UTC()
	snap := o.snapshotLocked()
	o.broadcastLocked(snap)
	o.mu.Unlock()

	o.emit(ctx, snap)
}

// fail records the single user-facing message for err and ends the intent.
func (o *ActionOrchestrator) fail(ctx context.Context, err error) error {
	msg := domain.UserMessage(err)
	o.mu.Lock()
	o.state.Error = msg
	o.mu.Unlock()

	if errors.Is(err, domain.ErrAbandoned) {
		o.logger.InfoContext(ctx, "orchestrator: confirmation wait abandoned", slog.String("error", err.Error()))
	} else {
		o.logger.WarnContext(ctx, "orchestrator: intent failed",
			slog.String("error", err.Error()),
			slog.String("message", msg),
		)
	}

	o.transition(ctx, domain.PhaseFailed, "")
	o.finish(ctx, domain.PhaseFailed, msg)
	return err
}

// finish journals the terminal outcome and returns the orchestrator to idle.
func (o *ActionOrchestrator) finish(ctx context.Context, outcome domain.Phase, msg string) {
	o.mu.Lock()
	terminal := o.snapshotLocked()
	rec := domain.IntentRecord{
		ID:         terminal.ID,
		ListingID:  o.listingID,
		Kind:       terminal.Kind,
		Outcome:    outcome,
		Actor:      o.actor,
		TxHashes:   terminal.TxHashes,
		Error:      msg,
		StartedAt:  o.started,
		FinishedAt: time.Now().UTC(),
	}
	o.last = terminal
	o.state = domain.PendingOperation{ListingID: o.listingID, Phase: domain.PhaseIdle, UpdatedAt: rec.FinishedAt}
	idle := o.state
	o.broadcastLocked(idle)
	o.mu.Unlock()

	o.emit(ctx, idle)

	if o.deps.Journal != nil {
		if err := o.deps.Journal.Record(context.WithoutCancel(ctx), rec); err != nil {
			o.logger.WarnContext(ctx, "orchestrator: journal record failed", slog.String("error", err.Error()))
		}
	}
	o.logger.InfoContext(ctx, "orchestrator: intent finished",
		slog.String("kind", string(rec.Kind)),
		slog.String("outcome", string(outcome)),
		slog.Duration("took", rec.FinishedAt.Sub(rec.StartedAt)),
	)
}

// refresh re-reads every view the mutation may have changed. A failed read
// only drops the cached views; the mutation itself is already confirmed.
func (o *ActionOrchestrator) refresh(ctx context.Context, kind domain.IntentKind, actor string) {
	r := o.deps.Reader
	if err := r.Invalidate(ctx, o.listingID); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: invalidate failed", slog.String("error", err.Error()))
	}

	var err error
	switch kind {
	case domain.IntentComment:
		_, err = r.RefreshComments(ctx, o.listingID)
	case domain.IntentLike, domain.IntentUnlike:
		if _, err = r.RefreshListing(ctx, o.listingID); err == nil {
			var liked domain.EntityView[bool]
			liked, err = r.LikeStatus(ctx, o.listingID, actor)
			if err == nil && liked.Ready() {
				v := liked.Value
				o.mu.Lock()
				o.state.Liked = &v
				o.mu.Unlock()
			}
		}
	default:
		_, err = r.RefreshListing(ctx, o.listingID)
	}
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: refresh after confirmation failed", slog.String("error", err.Error()))
		if err := r.Invalidate(ctx, o.listingID); err != nil {
			o.logger.WarnContext(ctx, "orchestrator: invalidate failed", slog.String("error", err.Error()))
		}
	}
}

// lock takes the distributed intent lock for this lane and actor.
func (o *ActionOrchestrator) lock(ctx context.Context, actor string) (func(), error) {
	if o.deps.Locks == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("intent:%d:%s:%s", o.listingID, o.lane, strings.ToLower(actor))
	unlock, err := o.deps.Locks.Acquire(ctx, key, o.deps.Config.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, &domain.ValidationError{Message: msgLaneBusy, Err: domain.ErrIntentInFlight}
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire %s: %w", key, err)
	}
	return unlock, nil
}

func (o *ActionOrchestrator) snapshotLocked() domain.PendingOperation {
	s := o.state
	s.TxHashes = append([]string(nil), o.state.TxHashes...)
	return s
}

func (o *ActionOrchestrator) broadcastLocked(s domain.PendingOperation) {
	for _, ch := range o.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// emit forwards a transition to the observer and the signal bus. Both run
// detached from ctx so an abandoned intent still reports its release.
func (o *ActionOrchestrator) emit(ctx context.Context, s domain.PendingOperation) {
	dctx := context.WithoutCancel(ctx)
	if o.deps.Observer != nil {
		o.deps.Observer.Observe(dctx, s)
	}
	if o.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Lane Lane `json:"lane"`
		domain.PendingOperation
	}{Lane: o.lane, PendingOperation: s})
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: marshal transition failed", slog.String("error", err.Error()))
		return
	}
	if err := o.deps.Bus.Publish(dctx, IntentChannel(o.listingID), payload); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: publish transition failed", slog.String("error", err.Error()))
	}
}
