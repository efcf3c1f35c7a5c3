package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"

	"github.com/84hero/oracle-scope/pkg/session"
	"github.com/84hero/oracle-scope/pkg/stats"
	"github.com/84hero/oracle-scope/pkg/values"
)

// Server exposes the dashboard's read API over one scan session.
type Server struct {
	session *session.Session
	router  *mux.Router
}

func NewServer(sess *session.Session) *Server {
	s := &Server{
		session: sess,
		router:  mux.NewRouter(),
	}

	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/chain", s.handleChain).Methods("GET")
	r.HandleFunc("/aggregate", s.handleAggregate).Methods("GET")
	r.HandleFunc("/assets", s.handleAssets).Methods("GET")
	r.HandleFunc("/assets/{name}", s.handleAsset).Methods("GET")
	r.HandleFunc("/assets/{name}/frequency", s.handleFrequency).Methods("GET")
	r.HandleFunc("/values", s.handleValues).Methods("GET")
	r.HandleFunc("/registry", s.handleRegistry).Methods("GET")
	r.HandleFunc("/cancel", s.handleCancel).Methods("POST")

	return s
}

// Router returns the http handler for mounting.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Chain())
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Stats().SnapshotAggregate())
}

// assetSummary is the list view; the update history is only shipped from the
// per-asset endpoint.
type assetSummary struct {
	AssetName      string  `json:"asset_name"`
	UpdateCount    uint64  `json:"update_count"`
	UniqueUpdaters int     `json:"unique_updaters"`
	TotalGas       float64 `json:"total_gas"`
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.session.Stats().SnapshotAssets()
	out := make([]assetSummary, 0, len(assets))
	for _, asset := range assets {
		out = append(out, assetSummary{
			AssetName:      asset.AssetName,
			UpdateCount:    asset.UpdateCount,
			UniqueUpdaters: len(asset.UniqueUpdaters),
			TotalGas:       asset.TotalGas,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	asset, ok := s.session.Stats().SnapshotAsset(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown asset")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	window := stats.Window(r.URL.Query().Get("window"))
	switch window {
	case "":
		window = stats.WindowAll
	case stats.WindowDay, stats.WindowWeek, stats.WindowMonth, stats.WindowYear, stats.WindowAll:
	default:
		writeError(w, http.StatusBadRequest, "unknown window")
		return
	}

	asset, ok := s.session.Stats().SnapshotAsset(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown asset")
		return
	}
	writeJSON(w, http.StatusOK, stats.CalculateUpdateStats(asset.Updates, window, time.Now()))
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	vals := s.session.Values()
	if vals == nil {
		writeJSON(w, http.StatusOK, []values.Record{})
		return
	}
	snapshot := vals.Snapshot()
	out := make([]values.Record, 0, len(snapshot))
	for _, rec := range snapshot {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AssetName < out[j].AssetName
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.session.Registry()
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not loaded yet")
		return
	}
	writeJSON(w, http.StatusOK, reg.Assets())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.session.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode api response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
