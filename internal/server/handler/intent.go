package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/alanyoungcy/celomarket/internal/domain"
	"github.com/alanyoungcy/celomarket/internal/service"
)

// Marketplace is what the intent handler needs from the service layer.
type Marketplace interface {
	Trigger(ctx context.Context, listingID uint64, kind domain.IntentKind) error
	SubmitComment(ctx context.Context, listingID uint64, text string) error
	Available(ctx context.Context, listingID uint64, kind domain.IntentKind) bool
	Status(ctx context.Context, listingID uint64) []service.LaneStatus
	History(ctx context.Context, opts domain.ListOpts) ([]domain.IntentRecord, error)
}

// IntentHandler starts intents and reports their state. Intents run in the
// background by default; ?wait=true blocks until the intent ends.
type IntentHandler struct {
	market Marketplace
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewIntentHandler creates an IntentHandler.
func NewIntentHandler(market Marketplace, logger *slog.Logger) *IntentHandler {
	return &IntentHandler{market: market, logger: logHandler(logger, "intent")}
}

type intentResponse struct {
	ListingID uint64               `json:"listing_id"`
	Kind      domain.IntentKind    `json:"kind,omitempty"`
	Error     string               `json:"error,omitempty"`
	Lanes     []service.LaneStatus `json:"lanes"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// Purchase approves the listing price and buys the listing.
// POST /api/listings/{id}/purchase
func (h *IntentHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, domain.IntentPurchase, "")
}

// Like likes the listing.
// POST /api/listings/{id}/like
func (h *IntentHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, domain.IntentLike, "")
}

// Unlike removes the like.
// POST /api/listings/{id}/unlike
func (h *IntentHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, domain.IntentUnlike, "")
}

// Comment submits {"text": ...} as a comment. Blank text is passed through
// so the rejection shows up as a failed intent.
// POST /api/listings/{id}/comments
func (h *IntentHandler) Comment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.start(w, r, domain.IntentComment, req.Text)
}

// ListingIntents reports both lanes of a listing.
// GET /api/listings/{id}/intents
func (h *IntentHandler) ListingIntents(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{ListingID: id, Lanes: h.market.Status(r.Context(), id)})
}

// History lists journaled intents, newest first.
// GET /api/intents/history?listing_id=&kind=&actor=&since=&until=&limit=&offset=
func (h *IntentHandler) History(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	recs, err := h.market.History(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: intent history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list intent history")
		return
	}
	if recs == nil {
		recs = []domain.IntentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intents": recs,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// Wait blocks until every background intent has ended.
func (h *IntentHandler) Wait() {
	h.wg.Wait()
}

func (h *IntentHandler) start(w http.ResponseWriter, r *http.Request, kind domain.IntentKind, text string) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if wait {
		err := h.run(r.Context(), id, kind, text)
		resp := intentResponse{ListingID: id, Kind: kind, Lanes: h.market.Status(r.Context(), id)}
		if err != nil {
			resp.Error = domain.UserMessage(err)
			writeJSON(w, intentStatus(err), resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if !h.market.Available(r.Context(), id, kind) {
		writeJSON(w, http.StatusConflict, intentResponse{
			ListingID: id,
			Kind:      kind,
			Error:     "action unavailable",
			Lanes:     h.market.Status(r.Context(), id),
		})
		return
	}

	// The intent outlives the request; the remote transaction cannot be
	// recalled once submitted.
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.run(ctx, id, kind, text); err != nil {
			h.logger.InfoContext(ctx, "handler: intent ended with error",
				slog.Uint64("listing_id", id),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, intentResponse{ListingID: id, Kind: kind, Lanes: h.market.Status(r.Context(), id)})
}

func (h *IntentHandler) run(ctx context.Context, id uint64, kind domain.IntentKind, text string) error {
	if kind == domain.IntentComment {
		return h.market.SubmitComment(ctx, id, text)
	}
	return h.market.Trigger(ctx, id, kind)
}
