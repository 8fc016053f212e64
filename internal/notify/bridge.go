package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// Level classifies a projected status.
type Level string

const (
	LevelPending Level = "pending"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Status is the user-facing rendering of an intent phase.
type Status struct {
	Level Level  `json:"level"`
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
}

// Texts are the three messages shown over the life of one intent kind.
type Texts struct {
	Pending string
	Success string
	Failure string
}

var intentTexts = map[domain.IntentKind]Texts{
	domain.IntentPurchase: {"Purchasing product...", "Product purchased successfully", "Failed to purchase product"},
	domain.IntentLike:     {"Liking product...", "Liked successfully", "Failed to like product"},
	domain.IntentUnlike:   {"Unliking product...", "Unliked successfully", "Failed to unlike product"},
	domain.IntentComment:  {"Adding your comment...", "Comment added successfully", domain.FallbackMessage},
}

const (
	connectTitle = "Connect your wallet"
	connectText  = "A connected wallet is needed to continue"
)

// Bridge projects intent transitions onto user-facing statuses and forwards
// terminal ones to a Notifier. It keeps no history between intents.
type Bridge struct {
	notifier    *Notifier
	explorerURL string
	logger      *slog.Logger
}

// NewBridge creates a Bridge. notifier may be nil, in which case Observe
// only logs. explorerURL, if set, is used to link transaction hashes.
func NewBridge(notifier *Notifier, explorerURL string, logger *slog.Logger) *Bridge {
	return &Bridge{
		notifier:    notifier,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		logger:      logger.With(slog.String("component", "notification_bridge")),
	}
}

// Project maps an intent kind, phase and failure message to the status the
// user sees. ok is false for idle, which has nothing to show. A failure
// with no message falls back to domain.FallbackMessage.
func Project(kind domain.IntentKind, phase domain.Phase, errMsg string) (s Status, ok bool) {
	texts, known := intentTexts[kind]
	if !known {
		texts = Texts{Pending: "Working...", Success: "Done", Failure: domain.FallbackMessage}
	}

	switch phase {
	case domain.PhaseIdle, "":
		return Status{}, false
	case domain.PhasePromptingConnect:
		return Status{Level: LevelInfo, Title: connectTitle, Text: connectText}, true
	case domain.PhaseDone:
		return Status{Level: LevelSuccess, Title: texts.Success}, true
	case domain.PhaseFailed:
		if errMsg == "" {
			errMsg = domain.FallbackMessage
		}
		if errMsg == texts.Failure {
			return Status{Level: LevelError, Title: texts.Failure}, true
		}
		return Status{Level: LevelError, Title: texts.Failure, Text: errMsg}, true
	default:
		return Status{Level: LevelPending, Title: texts.Pending}, true
	}
}

// Project is the method form of the package-level Project.
func (b *Bridge) Project(kind domain.IntentKind, phase domain.Phase, errMsg string) (Status, bool) {
	return Project(kind, phase, errMsg)
}

// Observe implements service.Observer. Only done and failed phases leave
// the process.
func (b *Bridge) Observe(ctx context.Context, op domain.PendingOperation) {
	if op.Phase != domain.PhaseDone && op.Phase != domain.PhaseFailed {
		return
	}
	s, ok := Project(op.Kind, op.Phase, op.Error)
	if !ok {
		return
	}

	b.logger.InfoContext(ctx, "intent outcome",
		slog.String("kind", string(op.Kind)),
		slog.Uint64("listing_id", op.ListingID),
		slog.String("level", string(s.Level)),
		slog.String("title", s.Title),
	)
	if !b.notifier.Enabled() {
		return
	}

	event := fmt.Sprintf("%s.%s", op.Kind, op.Phase)
	if err := b.notifier.Notify(ctx, event, s.Title, b.body(op, s)); err != nil {
		b.logger.WarnContext(ctx, "notification delivery failed", slog.String("error", err.Error()))
	}
}

func (b *Bridge) body(op domain.PendingOperation, s Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Listing #%d", op.ListingID)
	if s.Text != "" {
		fmt.Fprintf(&sb, "\n%s", s.Text)
	}
	for _, h := range op.TxHashes {
		if b.explorerURL != "" {
			fmt.Fprintf(&sb, "\n%s/tx/%s", b.explorerURL, h)
		} else {
			fmt.Fprintf(&sb, "\ntx %s", h)
		}
	}
	return sb.String()
}
