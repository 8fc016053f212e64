package domain

import "time"

// IntentKind is a user action that mutates ledger state.
type IntentKind string

const (
	IntentPurchase IntentKind = "purchase"
	IntentLike     IntentKind = "like"
	IntentUnlike   IntentKind = "unlike"
	IntentComment  IntentKind = "comment"
)

// Phase is a step of the intent state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseCheckingIdentity Phase = "checking-identity"
	PhasePromptingConnect Phase = "prompting-connect"
	PhaseApproving        Phase = "approving"
	PhaseSubmitting       Phase = "submitting"
	PhaseConfirming       Phase = "confirming"
	PhaseRefreshing       Phase = "refreshing"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
)

// transitions lists the allowed successor phases of each phase.
var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseCheckingIdentity, PhaseFailed},
	PhaseCheckingIdentity: {PhasePromptingConnect, PhaseApproving, PhaseSubmitting, PhaseFailed},
	PhasePromptingConnect: {PhaseIdle},
	PhaseApproving:        {PhaseSubmitting, PhaseFailed},
	PhaseSubmitting:       {PhaseConfirming, PhaseFailed},
	PhaseConfirming:       {PhaseRefreshing, PhaseFailed},
	PhaseRefreshing:       {PhaseDone},
	PhaseDone:             {PhaseIdle},
	PhaseFailed:           {PhaseIdle},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends an intent.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhasePromptingConnect
}

// PendingOperation is the observable state of the single intent an
// orchestrator may have in flight.
type PendingOperation struct {
	ID        string     `json:"id,omitempty"`
	ListingID uint64     `json:"listing_id"`
	Kind      IntentKind `json:"kind,omitempty"`
	Phase     Phase      `json:"phase"`
	Label     string     `json:"label,omitempty"`
	Error     string     `json:"error,omitempty"`
	TxHashes  []string   `json:"tx_hashes,omitempty"`
	// Liked is the actor's like status read back after a like or unlike.
	Liked     *bool      `json:"liked,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Idle reports whether no intent is outstanding.
func (p PendingOperation) Idle() bool {
	return p.Phase == PhaseIdle || p.Phase == ""
}

// IntentRecord is a journal row for one finished intent.
type IntentRecord struct {
	ID         string     `json:"id"`
	ListingID  uint64     `json:"listing_id"`
	Kind       IntentKind `json:"kind"`
	Outcome    Phase      `json:"outcome"`
	Actor      string     `json:"actor,omitempty"`
	TxHashes   []string   `json:"tx_hashes,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
