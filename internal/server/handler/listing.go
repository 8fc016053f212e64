package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// ListingReader is what the listing handler needs from the read side. It is
// declared locally so the handler does not depend on the concrete service.
type ListingReader interface {
	Browse(ctx context.Context) ([]domain.EntityView[domain.Listing], error)
	Listing(ctx context.Context, id uint64) (domain.EntityView[domain.Listing], error)
	RefreshListing(ctx context.Context, id uint64) (domain.EntityView[domain.Listing], error)
	Comments(ctx context.Context, id uint64) (domain.EntityView[[]domain.Comment], error)
	RefreshComments(ctx context.Context, id uint64) (domain.EntityView[[]domain.Comment], error)
	LikeStatus(ctx context.Context, id uint64, actor string) (domain.EntityView[bool], error)
}

// IdentitySource reports the connected identity, if any.
type IdentitySource interface {
	CurrentIdentity() (domain.Identity, bool)
}

// ListingHandler serves listing reads.
type ListingHandler struct {
	reader      ListingReader
	identity    IdentitySource
	explorerURL string
	logger      *slog.Logger
}

// NewListingHandler creates a ListingHandler. explorerURL, when set, is
// used to link owner and commenter addresses.
func NewListingHandler(reader ListingReader, identity IdentitySource, explorerURL string, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		reader:      reader,
		identity:    identity,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		logger:      logHandler(logger, "listing"),
	}
}

type listingDTO struct {
	domain.Listing
	DisplayPrice string `json:"display_price"`
	OwnerURL     string `json:"owner_url,omitempty"`
}

type listingResponse struct {
	Status  domain.ViewStatus `json:"status"`
	Listing *listingDTO       `json:"listing,omitempty"`
}

type commentDTO struct {
	domain.Comment
	AuthorURL string `json:"author_url,omitempty"`
}

type commentsResponse struct {
	Status   domain.ViewStatus `json:"status"`
	Comments []commentDTO      `json:"comments"`
}

type likedResponse struct {
	Status domain.ViewStatus `json:"status"`
	Actor  string            `json:"actor,omitempty"`
	Liked  bool              `json:"liked"`
}

// ListListings enumerates every listing on the marketplace.
// GET /api/listings
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	views, err := h.reader.Browse(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: browse listings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read listings")
		return
	}

	out := make([]listingResponse, 0, len(views))
	for _, v := range views {
		out = append(out, h.listingView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out, "total": len(out)})
}

// GetListing returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	view, err := h.reader.Listing(r.Context(), id)
	h.writeListing(w, r, id, view, err)
}

// RefreshListing re-reads a listing and its comments from the ledger.
// POST /api/listings/{id}/refresh
func (h *ListingHandler) RefreshListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	view, err := h.reader.RefreshListing(r.Context(), id)
	if err == nil && view.Ready() {
		if _, cerr := h.reader.RefreshComments(r.Context(), id); cerr != nil {
			h.logger.WarnContext(r.Context(), "handler: refresh comments failed",
				slog.Uint64("listing_id", id),
				slog.String("error", cerr.Error()),
			)
		}
	}
	h.writeListing(w, r, id, view, err)
}

// GetComments returns the comment sequence in ledger order.
// GET /api/listings/{id}/comments
func (h *ListingHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	view, err := h.reader.Comments(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read comments failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read comments")
		return
	}

	resp := commentsResponse{Status: view.Status, Comments: make([]commentDTO, 0, len(view.Value))}
	for _, c := range view.Value {
		resp.Comments = append(resp.Comments, commentDTO{Comment: c, AuthorURL: h.addressURL(c.Author)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLiked reports whether an actor likes the listing. The actor defaults
// to the connected wallet.
// GET /api/listings/{id}/liked?actor=0x...
func (h *ListingHandler) GetLiked(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	if actor == "" && h.identity != nil {
		if ident, ok := h.identity.CurrentIdentity(); ok {
			actor = ident.Address()
		}
	}

	view, err := h.reader.LikeStatus(r.Context(), id, actor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read like status failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read like status")
		return
	}
	writeJSON(w, http.StatusOK, likedResponse{Status: view.Status, Actor: actor, Liked: view.Value})
}

func (h *ListingHandler) writeListing(w http.ResponseWriter, r *http.Request, id uint64, view domain.EntityView[domain.Listing], err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read listing failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read listing")
		return
	}
	if view.Status == domain.ViewNotFound {
		writeJSON(w, http.StatusNotFound, listingResponse{Status: view.Status})
		return
	}
	writeJSON(w, http.StatusOK, h.listingView(view))
}

func (h *ListingHandler) listingView(v domain.EntityView[domain.Listing]) listingResponse {
	if !v.Ready() {
		return listingResponse{Status: v.Status}
	}
	return listingResponse{
		Status: v.Status,
		Listing: &listingDTO{
			Listing:      v.Value,
			DisplayPrice: v.Value.DisplayPrice(),
			OwnerURL:     h.addressURL(v.Value.Owner),
		},
	}
}

func (h *ListingHandler) addressURL(addr string) string {
	if h.explorerURL == "" || addr == "" {
		return ""
	}
	return h.explorerURL + "/address/" + addr
}
