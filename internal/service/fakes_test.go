package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/celomarket/internal/cache/memory"
	"github.com/alanyoungcy/celomarket/internal/domain"
	"github.com/alanyoungcy/celomarket/internal/executor"
)

const (
	marketplaceAddr = "0x1111111111111111111111111111111111111111"
	sellerAddr      = "0x2222222222222222222222222222222222222222"
	buyerAddr       = "0x3333333333333333333333333333333333333333"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type submitted struct {
	op   domain.Operation
	from string
}

// fakeLedger is an in-memory marketplace contract. Confirming an operation
// applies its effect, so refreshed reads observe it.
type fakeLedger struct {
	mu          sync.Mutex
	listings    map[uint64]domain.Listing
	comments    map[uint64][]domain.Comment
	liked       map[string]bool
	allowance   *big.Int
	unavailable bool
	readErr     error

	submitErr  map[domain.OperationKind]error
	confirmErr map[domain.OperationKind]error
	hold       map[domain.OperationKind]chan struct{}
	entered    chan domain.OperationKind

	pending map[string]submitted
	subs    []submitted
	events  []string
	reads   map[domain.EntityKind]int
	nextTx  int
	block   uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		listings:   make(map[uint64]domain.Listing),
		comments:   make(map[uint64][]domain.Comment),
		liked:      make(map[string]bool),
		allowance:  new(big.Int),
		submitErr:  make(map[domain.OperationKind]error),
		confirmErr: make(map[domain.OperationKind]error),
		hold:       make(map[domain.OperationKind]chan struct{}),
		entered:    make(chan domain.OperationKind, 8),
		pending:    make(map[string]submitted),
		reads:      make(map[domain.EntityKind]int),
		block:      100,
	}
}

func (f *fakeLedger) addListing(l domain.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[l.ID] = l
}

func likedKey(id uint64, actor string) string { return fmt.Sprintf("%d/%s", id, actor) }

func (f *fakeLedger) ReadEntity(_ context.Context, kind domain.EntityKind, id uint64, caller string) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[kind]++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.unavailable {
		return nil, domain.ErrReadUnavailable
	}
	switch kind {
	case domain.EntityListing:
		l, ok := f.listings[id]
		if !ok {
			return []any{"0x0000000000000000000000000000000000000000", "", "", "", "", new(big.Int), new(big.Int), new(big.Int)}, nil
		}
		return []any{l.Owner, l.Name, l.Image, l.Description, l.Location,
			new(big.Int).Set(l.Price), new(big.Int).SetUint64(l.Sold), new(big.Int).SetUint64(l.Likes)}, nil
	case domain.EntityLikeStatus:
		return []any{f.liked[likedKey(id, caller)]}, nil
	case domain.EntityComments:
		rows := make([]any, 0, len(f.comments[id]))
		for _, c := range f.comments[id] {
			rows = append(rows, []any{c.Author, big.NewInt(c.Timestamp), c.Body})
		}
		return rows, nil
	case domain.EntityAllowance:
		return []any{new(big.Int).Set(f.allowance)}, nil
	case domain.EntityListingCount:
		return []any{uint64(len(f.listings))}, nil
	}
	return nil, fmt.Errorf("unknown kind %s", kind)
}

func (f *fakeLedger) SubmitOperation(_ context.Context, op domain.Operation, from domain.Identity) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "submit:"+string(op.Kind))
	if err := f.submitErr[op.Kind]; err != nil {
		return domain.TxHandle{}, err
	}
	f.nextTx++
	hash := fmt.Sprintf("0x%04d", f.nextTx)
	s := submitted{op: op, from: from.Address()}
	f.pending[hash] = s
	f.subs = append(f.subs, s)
	return domain.TxHandle{Hash: hash, Kind: op.Kind, From: from.Address(), SubmittedAt: time.Now()}, nil
}

func (f *fakeLedger) AwaitConfirmations(ctx context.Context, h domain.TxHandle, n uint64) (domain.Receipt, error) {
	f.mu.Lock()
	hold := f.hold[h.Kind]
	f.mu.Unlock()

	if hold != nil {
		f.entered <- h.Kind
		select {
		case <-hold:
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.confirmErr[h.Kind]; err != nil {
		return domain.Receipt{}, err
	}
	s := f.pending[h.Hash]
	f.apply(s)
	f.events = append(f.events, "confirm:"+string(h.Kind))
	f.block++
	return domain.Receipt{Hash: h.Hash, BlockNumber: f.block, Confirmations: n}, nil
}

func (f *fakeLedger) apply(s submitted) {
	l := f.listings[s.op.ListingID]
	switch s.op.Kind {
	case domain.OpApprove:
		f.allowance = new(big.Int).Set(s.op.Amount)
	case domain.OpBuy:
		l.Sold++
		f.allowance = new(big.Int).Sub(f.allowance, l.Price)
	case domain.OpLike:
		l.Likes++
		f.liked[likedKey(s.op.ListingID, s.from)] = true
	case domain.OpUnlike:
		l.Likes--
		f.liked[likedKey(s.op.ListingID, s.from)] = false
	case domain.OpComment:
		f.comments[s.op.ListingID] = append(f.comments[s.op.ListingID],
			domain.Comment{Author: s.from, Timestamp: int64(f.block), Body: s.op.Text})
	}
	if _, ok := f.listings[s.op.ListingID]; ok {
		f.listings[s.op.ListingID] = l
	}
}

func (f *fakeLedger) submittedKinds() []domain.OperationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OperationKind, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s.op.Kind)
	}
	return out
}

func (f *fakeLedger) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type walletIdentity string

func (w walletIdentity) Address() string { return string(w) }

type fakeIdentity struct {
	mu      sync.Mutex
	current domain.Identity
	prompts int
}

func (f *fakeIdentity) CurrentIdentity() (domain.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.current != nil
}

func (f *fakeIdentity) PromptConnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts++
}

type phaseRecorder struct {
	mu     sync.Mutex
	states []domain.PendingOperation
}

func (r *phaseRecorder) Observe(_ context.Context, op domain.PendingOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, op)
}

func (r *phaseRecorder) phases() []domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Phase, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Phase)
	}
	return out
}

func (r *phaseRecorder) failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.states {
		if s.Phase == domain.PhaseFailed {
			out = append(out, s.Error)
		}
	}
	return out
}

type fakeJournal struct {
	mu   sync.Mutex
	recs []domain.IntentRecord
}

func (j *fakeJournal) Record(_ context.Context, rec domain.IntentRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *fakeJournal) List(context.Context, domain.ListOpts) ([]domain.IntentRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.IntentRecord(nil), j.recs...), nil
}

func (j *fakeJournal) ListBefore(context.Context, time.Time, int) ([]domain.IntentRecord, error) {
	return nil, nil
}

func (j *fakeJournal) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type harness struct {
	ledger   *fakeLedger
	identity *fakeIdentity
	observer *phaseRecorder
	journal  *fakeJournal
	bus      *fakeBus
	guard    *executor.Guard
	market   *Marketplace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := newFakeLedger()
	ledger.addListing(domain.Listing{
		ID: 0, Owner: sellerAddr, Name: "Kente cloth", Location: "Kumasi",
		Price: big.NewInt(1_000_000), Sold: 2, Likes: 1,
	})

	logger := discardLogger()
	exec := executor.NewExecutor(ledger, time.Minute, logger)
	h := &harness{
		ledger:   ledger,
		identity: &fakeIdentity{current: walletIdentity(buyerAddr)},
		observer: &phaseRecorder{},
		journal:  &fakeJournal{},
		bus:      &fakeBus{},
		guard:    executor.NewGuard(),
	}
	h.market = NewMarketplace(Deps{
		Reader:   NewListingReader(ledger, memory.NewListingCache(0), logger),
		Executor: exec,
		Gate:     executor.NewApprovalGate(exec, ledger, false, logger),
		Identity: h.identity,
		Locks:    h.guard,
		Bus:      h.bus,
		Journal:  h.journal,
		Observer: h.observer,
		Config: OrchestratorConfig{
			Spender:          marketplaceAddr,
			MinConfirmations: 1,
			LockTTL:          time.Minute,
		},
		Logger: logger,
	})
	return h
}

// nodeError is a JSON-RPC error object as returned by a node.
type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }
