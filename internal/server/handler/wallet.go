package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// WalletConnector is the identity provider as seen by the wallet handler.
type WalletConnector interface {
	CurrentIdentity() (domain.Identity, bool)
	PromptConnect(ctx context.Context)
	Disconnect()
}

// WalletHandler connects and disconnects the signing wallet.
type WalletHandler struct {
	connector WalletConnector
	logger    *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(connector WalletConnector, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{connector: connector, logger: logHandler(logger, "wallet")}
}

type walletResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// GetWallet reports the connected wallet.
// GET /api/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// Connect resolves a wallet from the configured key sources.
// POST /api/wallet/connect
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if resp := h.current(); resp.Connected {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.connector.PromptConnect(r.Context())
	resp := h.current()
	if !resp.Connected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"connected": false,
			"error":     "no wallet key available",
		})
		return
	}
	h.logger.InfoContext(r.Context(), "handler: wallet connected", slog.String("address", resp.Address))
	writeJSON(w, http.StatusOK, resp)
}

// Disconnect forgets the connected wallet.
// DELETE /api/wallet
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.connector.Disconnect()
	writeJSON(w, http.StatusOK, walletResponse{Connected: false})
}

func (h *WalletHandler) current() walletResponse {
	ident, ok := h.connector.CurrentIdentity()
	if !ok {
		return walletResponse{}
	}
	return walletResponse{Connected: true, Address: ident.Address()}
}
