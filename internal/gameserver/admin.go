package gameserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminHandler serves operational endpoints. it is meant for a private
// address, nothing here is authenticated.
//
//	GET  /healthz
//	GET  /clients
//	POST /map[?phrase=...]
//	GET  /metrics (only when gatherer is not nil)
func (gs *GameServer) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/clients", gs.handleGetClients)
	r.Post("/map", gs.handlePostMap)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (gs *GameServer) handleGetClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gs.Clients())
}

func (gs *GameServer) handlePostMap(w http.ResponseWriter, r *http.Request) {
	var seed uint64
	if phrase := r.URL.Query().Get("phrase"); phrase != "" {
		seed = SeedFromPhrase(phrase)
	} else {
		seed = gs.RandomSeed()
	}

	gs.ChangeMap(seed)

	writeJSON(w, map[string]uint64{"seed": seed})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
