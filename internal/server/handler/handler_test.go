package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/celomarket/internal/domain"
	"github.com/alanyoungcy/celomarket/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockMarketplace is a testify mock of Marketplace.
type MockMarketplace struct {
	mock.Mock
}

func (m *MockMarketplace) Trigger(ctx context.Context, id uint64, kind domain.IntentKind) error {
	return m.Called(ctx, id, kind).Error(0)
}

func (m *MockMarketplace) SubmitComment(ctx context.Context, id uint64, text string) error {
	return m.Called(ctx, id, text).Error(0)
}

func (m *MockMarketplace) Available(ctx context.Context, id uint64, kind domain.IntentKind) bool {
	return m.Called(ctx, id, kind).Bool(0)
}

func (m *MockMarketplace) Status(ctx context.Context, id uint64) []service.LaneStatus {
	return m.Called(ctx, id).Get(0).([]service.LaneStatus)
}

func (m *MockMarketplace) History(ctx context.Context, opts domain.ListOpts) ([]domain.IntentRecord, error) {
	args := m.Called(ctx, opts)
	recs, _ := args.Get(0).([]domain.IntentRecord)
	return recs, args.Error(1)
}

type stubReader struct {
	listings map[uint64]domain.EntityView[domain.Listing]
	comments domain.EntityView[[]domain.Comment]
	liked    map[string]bool
	refresh  int
	err      error
}

func (s *stubReader) Browse(context.Context) ([]domain.EntityView[domain.Listing], error) {
	out := make([]domain.EntityView[domain.Listing], len(s.listings))
	for id, v := range s.listings {
		out[id] = v
	}
	return out, s.err
}

func (s *stubReader) Listing(_ context.Context, id uint64) (domain.EntityView[domain.Listing], error) {
	if v, ok := s.listings[id]; ok {
		return v, s.err
	}
	return domain.NotFoundView[domain.Listing](), s.err
}

func (s *stubReader) RefreshListing(ctx context.Context, id uint64) (domain.EntityView[domain.Listing], error) {
	s.refresh++
	return s.Listing(ctx, id)
}

func (s *stubReader) Comments(context.Context, uint64) (domain.EntityView[[]domain.Comment], error) {
	return s.comments, s.err
}

func (s *stubReader) RefreshComments(ctx context.Context, id uint64) (domain.EntityView[[]domain.Comment], error) {
	s.refresh++
	return s.Comments(ctx, id)
}

func (s *stubReader) LikeStatus(_ context.Context, _ uint64, actor string) (domain.EntityView[bool], error) {
	if actor == "" {
		return domain.LoadingView[bool](), nil
	}
	return domain.ReadyView(s.liked[actor]), nil
}

type addr string

func (a addr) Address() string { return string(a) }

type stubConnector struct {
	mu      sync.Mutex
	current domain.Identity
	key     domain.Identity
}

func (c *stubConnector) CurrentIdentity() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

func (c *stubConnector) PromptConnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.key
}

func (c *stubConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func newListingReader() *stubReader {
	price, _ := new(big.Int).SetString("1500000000000000000", 10)
	return &stubReader{
		listings: map[uint64]domain.EntityView[domain.Listing]{
			0: domain.ReadyView(domain.Listing{ID: 0, Owner: "0xSeller", Name: "Kente", Price: price, Likes: 2}),
			1: domain.LoadingView[domain.Listing](),
		},
		comments: domain.ReadyView([]domain.Comment{
			{Author: "0xA", Timestamp: 1, Body: "first"},
			{Author: "0xB", Timestamp: 2, Body: "second"},
		}),
		liked: map[string]bool{"0xBuyer": true},
	}
}

func TestListingHandler_GetListing(t *testing.T) {
	h := NewListingHandler(newListingReader(), nil, "https://explorer.celo.org/alfajores", discardLogger())

	rec := serve("GET /api/listings/{id}", h.GetListing, httptest.NewRequest(http.MethodGet, "/api/listings/0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	listing := body["listing"].(map[string]any)
	assert.Equal(t, "Kente", listing["name"])
	assert.Equal(t, "1.5", listing["display_price"])
	assert.Equal(t, "https://explorer.celo.org/alfajores/address/0xSeller", listing["owner_url"])

	rec = serve("GET /api/listings/{id}", h.GetListing, httptest.NewRequest(http.MethodGet, "/api/listings/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "loading", decode(t, rec)["status"])

	rec = serve("GET /api/listings/{id}", h.GetListing, httptest.NewRequest(http.MethodGet, "/api/listings/9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve("GET /api/listings/{id}", h.GetListing, httptest.NewRequest(http.MethodGet, "/api/listings/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingHandler_CommentsKeepLedgerOrder(t *testing.T) {
	h := NewListingHandler(newListingReader(), nil, "", discardLogger())
	rec := serve("GET /api/listings/{id}/comments", h.GetComments, httptest.NewRequest(http.MethodGet, "/api/listings/0/comments", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp commentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Comments, 2)
	assert.Equal(t, "first", resp.Comments[0].Body)
	assert.Equal(t, "second", resp.Comments[1].Body)
	assert.Empty(t, resp.Comments[0].AuthorURL)
}

func TestListingHandler_LikedDefaultsToConnectedWallet(t *testing.T) {
	conn := &stubConnector{}
	h := NewListingHandler(newListingReader(), conn, "", discardLogger())

	rec := serve("GET /api/listings/{id}/liked", h.GetLiked, httptest.NewRequest(http.MethodGet, "/api/listings/0/liked", nil))
	assert.Equal(t, "loading", decode(t, rec)["status"])

	conn.current = addr("0xBuyer")
	rec = serve("GET /api/listings/{id}/liked", h.GetLiked, httptest.NewRequest(http.MethodGet, "/api/listings/0/liked", nil))
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, true, body["liked"])
}

func TestListingHandler_Refresh(t *testing.T) {
	reader := newListingReader()
	h := NewListingHandler(reader, nil, "", discardLogger())
	rec := serve("POST /api/listings/{id}/refresh", h.RefreshListing, httptest.NewRequest(http.MethodPost, "/api/listings/0/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, reader.refresh)
}

func TestIntentHandler_WaitMapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"in flight", domain.ErrIntentInFlight, http.StatusConflict, domain.FallbackMessage},
		{"no identity", &domain.SubmissionError{Message: "Connect your wallet to continue", Err: domain.ErrIdentityUnavailable}, http.StatusUnauthorized, "Connect your wallet to continue"},
		{"revert", &domain.ConfirmationError{Reason: "Insufficient balance", Err: domain.ErrReverted}, http.StatusBadGateway, "Insufficient balance"},
		{"timeout", &domain.ConfirmationError{Message: "Transaction was not confirmed in time", Err: domain.ErrConfirmationTimeout}, http.StatusGatewayTimeout, "Transaction was not confirmed in time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := new(MockMarketplace)
			m.On("Trigger", mock.Anything, uint64(2), domain.IntentPurchase).Return(tc.err)
			m.On("Status", mock.Anything, uint64(2)).Return([]service.LaneStatus{})
			h := NewIntentHandler(m, discardLogger())

			rec := serve("POST /api/listings/{id}/purchase", h.Purchase,
				httptest.NewRequest(http.MethodPost, "/api/listings/2/purchase?wait=true", nil))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.msg, decode(t, rec)["error"])
			m.AssertExpectations(t)
		})
	}
}

func TestIntentHandler_AsyncRunsInBackground(t *testing.T) {
	m := new(MockMarketplace)
	m.On("Available", mock.Anything, uint64(0), domain.IntentLike).Return(true)
	m.On("Trigger", mock.Anything, uint64(0), domain.IntentLike).Return(nil)
	m.On("Status", mock.Anything, uint64(0)).Return([]service.LaneStatus{{Lane: service.LaneProduct}})
	h := NewIntentHandler(m, discardLogger())

	rec := serve("POST /api/listings/{id}/like", h.Like, httptest.NewRequest(http.MethodPost, "/api/listings/0/like", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()
	m.AssertCalled(t, "Trigger", mock.Anything, uint64(0), domain.IntentLike)
}

func TestIntentHandler_AsyncBusyIsConflict(t *testing.T) {
	m := new(MockMarketplace)
	m.On("Available", mock.Anything, uint64(0), domain.IntentUnlike).Return(false)
	m.On("Status", mock.Anything, uint64(0)).Return([]service.LaneStatus{})
	h := NewIntentHandler(m, discardLogger())

	rec := serve("POST /api/listings/{id}/unlike", h.Unlike, httptest.NewRequest(http.MethodPost, "/api/listings/0/unlike", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	m.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything, mock.Anything)
}

func TestIntentHandler_Comment(t *testing.T) {
	m := new(MockMarketplace)
	m.On("SubmitComment", mock.Anything, uint64(5), "great seller").Return(nil)
	m.On("Status", mock.Anything, uint64(5)).Return([]service.LaneStatus{})
	h := NewIntentHandler(m, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/listings/5/comments?wait=1", strings.NewReader(`{"text":"great seller"}`))
	rec := serve("POST /api/listings/{id}/comments", h.Comment, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve("POST /api/listings/{id}/comments", h.Comment,
		httptest.NewRequest(http.MethodPost, "/api/listings/5/comments", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntentHandler_HistoryFilters(t *testing.T) {
	m := new(MockMarketplace)
	m.On("History", mock.Anything, mock.MatchedBy(func(o domain.ListOpts) bool {
		return o.Limit == 10 && o.ListingID != nil && *o.ListingID == 3 && o.Kind == domain.IntentPurchase
	})).Return([]domain.IntentRecord{{ID: "x", ListingID: 3, Kind: domain.IntentPurchase, Outcome: domain.PhaseDone}}, nil)
	h := NewIntentHandler(m, discardLogger())

	rec := serve("GET /api/intents/history", h.History,
		httptest.NewRequest(http.MethodGet, "/api/intents/history?limit=10&listing_id=3&kind=purchase", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["intents"], 1)
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9999&offset=-1&since=2026-01-01T00:00:00Z&listing_id=x", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Nil(t, opts.ListingID)
}

func TestWalletHandler(t *testing.T) {
	conn := &stubConnector{}
	h := NewWalletHandler(conn, discardLogger())

	rec := serve("POST /api/wallet/connect", h.Connect, httptest.NewRequest(http.MethodPost, "/api/wallet/connect", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	conn.key = addr("0xBuyer")
	rec = serve("POST /api/wallet/connect", h.Connect, httptest.NewRequest(http.MethodPost, "/api/wallet/connect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xBuyer", decode(t, rec)["address"])

	rec = serve("DELETE /api/wallet", h.Disconnect, httptest.NewRequest(http.MethodDelete, "/api/wallet", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve("GET /api/wallet", h.GetWallet, httptest.NewRequest(http.MethodGet, "/api/wallet", nil))
	assert.Equal(t, false, decode(t, rec)["connected"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return io.ErrUnexpectedEOF },
	}, discardLogger())

	rec := serve("GET /api/health", h.HealthCheck, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
}
