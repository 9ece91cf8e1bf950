package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"consentchain/core/config"
	"consentchain/core/lederr"
	"consentchain/core/ledger"
	"consentchain/core/projection"
	"consentchain/core/query"
)

// Server is the HTTP route layer over the ledger core. It owns no
// state of its own: every handler delegates to the ledger, the query
// layer, or the projection engine.
type Server struct {
	ledger     *ledger.Ledger
	query      *query.Query
	engine     *projection.Engine
	cfg        config.Config
	ListenAddr string
}

func NewServer(led *ledger.Ledger, qry *query.Query, engine *projection.Engine, cfg config.Config) *Server {
	return &Server{
		ledger:     led,
		query:      qry,
		engine:     engine,
		cfg:        cfg,
		ListenAddr: cfg.APIAddr,
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Ledger operations (authenticated caller required)
	mux.HandleFunc("/api/consents/grant", s.handleGrantConsent)
	mux.HandleFunc("/api/consents/revoke", s.handleRevokeConsent)
	mux.HandleFunc("/api/requests/submit", s.handleRequestAccess)
	mux.HandleFunc("/api/requests/respond", s.handleRespondToRequest)

	// Query layer
	mux.HandleFunc("/api/consents/status", s.handleConsentStatus)
	mux.HandleFunc("/api/consents/get", s.handleGetConsent)
	mux.HandleFunc("/api/consents/list", s.handleListPatientConsents)
	mux.HandleFunc("/api/consents/by_provider", s.handleListProviderConsents)
	mux.HandleFunc("/api/requests/list", s.handleListPatientRequests)
	mux.HandleFunc("/api/history", s.handlePatientHistory)
	mux.HandleFunc("/api/events", s.handleGetEvents)
	mux.HandleFunc("/api/datatypes", s.handleListDataTypes)
	mux.HandleFunc("/api/purposes", s.handleListPurposes)

	// Operator endpoints
	mux.HandleFunc("/admin/tick", s.handleProjectionTick)
	mux.HandleFunc("/admin/import_legacy", s.handleImportLegacy)

	// Health / metrics
	mux.HandleFunc("/health/liveness", s.HandleLiveness)
	mux.HandleFunc("/health/readiness", s.HandleReadiness)
	mux.HandleFunc("/status", s.HandleStatus)
	mux.HandleFunc("/nodehealth", s.HandleNodeHealth)

	return mux
}

func (s *Server) Start() error {
	fmt.Println("API server listening at", s.ListenAddr)
	return http.ListenAndServe(s.ListenAddr, s.Routes())
}

// writeJSON writes a JSON response body with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the ledger error taxonomy onto transport status
// codes. Integrity violations surface as 500 with a distinct code so
// operators can tell corruption from normal absence.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case lederr.IsValidation(err):
		status = http.StatusBadRequest
	case lederr.IsAuthorization(err):
		status = http.StatusForbidden
	case lederr.IsNotFound(err):
		status = http.StatusNotFound
	case lederr.IsConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  lederr.Code(err),
	})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}
