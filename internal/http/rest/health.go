package rest

import "net/http"

// LedgerStats is implemented by *ledger.Ledger.
type LedgerStats interface {
	Stats() (requests, users int)
}

// HealthHandler reports liveness together with the ledger's size.
func HealthHandler(stats LedgerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, users := stats.Stats()

		writeJSON(r.Context(), w, http.StatusOK, map[string]any{
			"status":   "ok",
			"requests": requests,
			"users":    users,
		})
	}
}
