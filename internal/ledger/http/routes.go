package ledgerhttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the ledger API onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Post("/", h.openAccount)
		r.Get("/{id}", h.getAccount)
		r.Delete("/{id}", h.deactivateAccount)
		r.Post("/{id}/transactions", h.recordTransaction)
	})
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Get("/{id}", h.getTransaction)
		r.Post("/{id}/reverse", h.reverseTransaction)
	})
	r.Post("/transfers", h.transfer)
	r.Get("/dashboard/totals", h.dashboardTotals)
}
