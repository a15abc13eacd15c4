package http

import (
	"net/http"

	"github.com/examdesk/examdesk/internal/journal"
)

// GET /admin/journal?limit=
func JournalHandler(repo *journal.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		entries, err := repo.List(r.Context(), limit)
		if err != nil {
			http.Error(w, "list journal", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, entries)
	}
}
