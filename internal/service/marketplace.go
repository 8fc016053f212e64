package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

type laneKey struct {
	listingID uint64
	lane      Lane
}

// LaneStatus is the presentation view of one lane of a listing.
type LaneStatus struct {
	Lane      Lane                       `json:"lane"`
	Current   domain.PendingOperation    `json:"current"`
	Last      *domain.PendingOperation   `json:"last,omitempty"`
	Available map[domain.IntentKind]bool `json:"available"`
}

// Marketplace hands out one ActionOrchestrator per (listing, lane),
// creating them on first use.
type Marketplace struct {
	deps   *Deps
	logger *slog.Logger

	mu            sync.Mutex
	orchestrators map[laneKey]*ActionOrchestrator
}

// NewMarketplace creates a Marketplace sharing deps across all of its
// orchestrators.
func NewMarketplace(deps Deps) *Marketplace {
	return &Marketplace{
		deps:          &deps,
		logger:        deps.Logger.With(slog.String("component", "marketplace")),
		orchestrators: make(map[laneKey]*ActionOrchestrator),
	}
}

// Reader returns the shared listing reader.
func (m *Marketplace) Reader() *ListingReader {
	return m.deps.Reader
}

// Orchestrator returns the orchestrator for a listing's lane.
func (m *Marketplace) Orchestrator(listingID uint64, lane Lane) *ActionOrchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := laneKey{listingID: listingID, lane: lane}
	o, ok := m.orchestrators[k]
	if !ok {
		o = NewActionOrchestrator(listingID, lane, m.deps)
		m.orchestrators[k] = o
	}
	return o
}

// ForIntent returns the orchestrator that serves kind on a listing.
func (m *Marketplace) ForIntent(listingID uint64, kind domain.IntentKind) *ActionOrchestrator {
	return m.Orchestrator(listingID, LaneFor(kind))
}

// Trigger starts an intent on a listing and blocks until it ends.
func (m *Marketplace) Trigger(ctx context.Context, listingID uint64, kind domain.IntentKind) error {
	return m.ForIntent(listingID, kind).Trigger(ctx, kind)
}

// SubmitComment submits text as a comment on a listing.
func (m *Marketplace) SubmitComment(ctx context.Context, listingID uint64, text string) error {
	return m.Orchestrator(listingID, LaneComments).CommentText(ctx, text)
}

// Available reports whether kind can be triggered on a listing right now.
func (m *Marketplace) Available(ctx context.Context, listingID uint64, kind domain.IntentKind) bool {
	return m.ForIntent(listingID, kind).Available(ctx, kind)
}

// Status reports both lanes of a listing.
func (m *Marketplace) Status(ctx context.Context, listingID uint64) []LaneStatus {
	lanes := []struct {
		lane  Lane
		kinds []domain.IntentKind
	}{
		{LaneProduct, []domain.IntentKind{domain.IntentPurchase, domain.IntentLike, domain.IntentUnlike}},
		{LaneComments, []domain.IntentKind{domain.IntentComment}},
	}
	out := make([]LaneStatus, 0, len(lanes))
	for _, l := range lanes {
		o := m.Orchestrator(listingID, l.lane)
		st := LaneStatus{
			Lane:      l.lane,
			Current:   o.State(),
			Available: make(map[domain.IntentKind]bool, len(l.kinds)),
		}
		if last := o.Last(); last.ID != "" {
			st.Last = &last
		}
		for _, k := range l.kinds {
			st.Available[k] = o.Available(ctx, k)
		}
		out = append(out, st)
	}
	return out
}

// History lists journaled intents, newest first. It is empty when no
// journal is configured.
func (m *Marketplace) History(ctx context.Context, opts domain.ListOpts) ([]domain.IntentRecord, error) {
	if m.deps.Journal == nil {
		return []domain.IntentRecord{}, nil
	}
	recs, err := m.deps.Journal.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("marketplace: history: %w", err)
	}
	return recs, nil
}

// Active returns the number of orchestrators created so far.
func (m *Marketplace) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orchestrators)
}
