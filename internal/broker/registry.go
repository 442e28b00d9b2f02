package broker

import (
	"log/slog"
	"time"

	"kis-router/internal/account"
)

// Registry holds one Client per configured account. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	accounts *account.Store
	clients  map[string]*Client
}

// NewRegistry builds a client for every account in the store. realBase and
// virtualBase override the production URLs when non-empty.
func NewRegistry(accounts *account.Store, realBase, virtualBase string, logger *slog.Logger) *Registry {
	clients := make(map[string]*Client, accounts.Len())
	for _, id := range accounts.IDs() {
		acc, _ := accounts.ByID(id)
		base := realBase
		if acc.IsVirtual {
			base = virtualBase
		}
		clients[id] = NewClient(acc, base, logger)
	}
	return &Registry{accounts: accounts, clients: clients}
}

func (r *Registry) Client(accountID string) (*Client, bool) {
	c, ok := r.clients[accountID]
	return c, ok
}

// QuoteClient returns the client to use for market-data quotes on behalf of
// acc. Virtual environments serve no quotes, so a virtual account with a
// configured real reference borrows that account's client; otherwise the
// account's own client is returned and the quote call will surface the
// broker's answer.
func (r *Registry) QuoteClient(acc *account.Account) *Client {
	own := r.clients[acc.ID]
	if !acc.IsVirtual || acc.RealAccountReference == "" {
		return own
	}
	ref, ok := r.clients[acc.RealAccountReference]
	if !ok {
		return own
	}
	return ref
}

// SweepCaches expires cached reads older than maxAge on every client and
// reports the number of entries dropped.
func (r *Registry) SweepCaches(maxAge time.Duration) int {
	total := 0
	for _, c := range r.clients {
		total += c.SweepCache(maxAge)
	}
	return total
}
