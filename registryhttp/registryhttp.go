// Package registryhttp provides a read-only HTTP surface over a custody
// registry for presentation collaborators. Claimability and time remaining
// are derived with the registry's clock at request time, never stored.
package registryhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/heirloomhq/sdk/ledger"
	"github.com/heirloomhq/sdk/registry"
	"github.com/heirloomhq/sdk/state"
)

func New(r *registry.Registry) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/switch", handleSwitch(r))
	return cors.Default().Handler(m)
}

func handleSwitch(r *registry.Registry) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		owner := ledger.Account(req.URL.Query().Get("owner"))
		caller := ledger.Account(req.URL.Query().Get("caller"))
		s, err := r.Read(caller, owner)
		if err != nil {
			// Read visibility folds unauthorized reads into not found.
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		now := r.Now()
		v := struct {
			Switch        state.Switch
			Status        state.Status
			Claimable     bool
			TimeRemaining time.Duration
		}{
			Switch:        s,
			Status:        s.Status(),
			Claimable:     state.Claimable(s, now),
			TimeRemaining: state.TimeRemaining(s, now),
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(v)
		if err != nil {
			panic(err)
		}
	}
}
