package metrics

import (
	"encoding/json"
	"net/http"
)

// Handler serves whatever snapshot returns as JSON.
func Handler[T any](snapshot func() T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := snapshot()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
