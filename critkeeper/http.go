// CLAUDE:SUMMARY chi router for the critwatch admin surface: health, stats, history, restore, style.
package critkeeper

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/critlab/critwatch/style"
)

// Handler builds the admin HTTP surface. The surface is operator tooling,
// not a public API: no auth, bind it to loopback.
func (k *Keeper) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, k.Stats())
	})

	r.Get("/history/{channel}", func(w http.ResponseWriter, req *http.Request) {
		entries := k.History(chi.URLParam(req, "channel"))
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	})

	r.Delete("/history/{channel}", func(w http.ResponseWriter, req *http.Request) {
		channel := chi.URLParam(req, "channel")
		n := k.PurgeChannel(channel)
		writeJSON(w, http.StatusOK, map[string]any{"status": "purged", "channel": channel, "entries": n})
	})

	r.Post("/restore/{channel}", func(w http.ResponseWriter, req *http.Request) {
		rep, err := k.RestoreChannel(req.Context(), chi.URLParam(req, "channel"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	r.Get("/style", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, k.Style())
	})

	r.Put("/style", func(w http.ResponseWriter, req *http.Request) {
		var cfg style.Config
		if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid style config: " + err.Error()})
			return
		}
		applied, err := k.SetStyle(cfg)
		resp := map[string]any{"applied": applied}
		if err != nil {
			// The input was rejected but the keeper fell back to a safe
			// treatment; report both.
			resp["warning"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
