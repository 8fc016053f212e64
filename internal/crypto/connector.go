package crypto

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// Connector is the identity provider. It holds at most one connected
// Wallet; PromptConnect resolves one from the configured key sources.
type Connector struct {
	keys   KeyConfig
	logger *slog.Logger

	mu     sync.RWMutex
	wallet *Wallet
}

// NewConnector creates a Connector that resolves keys from cfg on demand.
func NewConnector(cfg KeyConfig, logger *slog.Logger) *Connector {
	return &Connector{
		keys:   cfg,
		logger: logger.With(slog.String("component", "connector")),
	}
}

// CurrentIdentity returns the connected wallet, if any.
func (c *Connector) CurrentIdentity() (domain.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.wallet == nil {
		return nil, false
	}
	return c.wallet, true
}

// PromptConnect tries to connect a wallet from the configured key sources.
// It reports nothing back; callers observe the result via CurrentIdentity.
func (c *Connector) PromptConnect(ctx context.Context) {
	keyHex, err := LoadKey(c.keys)
	if err != nil {
		c.logger.WarnContext(ctx, "connect prompt: no key available",
			slog.String("error", err.Error()),
		)
		return
	}
	w, err := NewWallet(keyHex)
	if err != nil {
		c.logger.WarnContext(ctx, "connect prompt: invalid key",
			slog.String("error", err.Error()),
		)
		return
	}
	c.Connect(w)
	c.logger.InfoContext(ctx, "wallet connected", slog.String("address", w.Address()))
}

// Connect installs w as the connected identity.
func (c *Connector) Connect(w *Wallet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallet = w
}

// Disconnect forgets the connected wallet.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallet = nil
}

var _ domain.IdentityProvider = (*Connector)(nil)
