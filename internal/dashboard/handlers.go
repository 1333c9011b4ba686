package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/ziadkadry99/swcache/internal/audit"
)

// generationStats describes one stored generation.
type generationStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// statsResponse is the JSON response for the stats endpoint.
type statsResponse struct {
	Generation  string            `json:"generation"`
	State       string            `json:"state"`
	Waiting     string            `json:"waiting,omitempty"`
	Generations []generationStats `json:"generations"`
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storage := d.reg.Storage()

	resp := statsResponse{State: "none", Generations: []generationStats{}}
	if ctrl := d.reg.Controller(); ctrl != nil {
		resp.Generation = ctrl.Generation()
		resp.State = ctrl.State().String()
	}
	if waiting := d.reg.Waiting(); waiting != nil {
		resp.Waiting = waiting.Generation()
	}

	names, err := storage.Keys(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	for _, name := range names {
		keys, err := storage.List(ctx, name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		resp.Generations = append(resp.Generations, generationStats{
			Name:    name,
			Entries: len(keys),
			Current: name == resp.Generation,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dashboard) handleRecent(w http.ResponseWriter, r *http.Request) {
	entries := []audit.Entry{}
	if d.journal != nil {
		var err error
		entries, err = d.journal.Query(r.Context(), audit.QueryFilter{Limit: 10})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
