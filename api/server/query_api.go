package server

import (
	"net/http"
	"strconv"

	"consentchain/core/query"
)

func pageFromRequest(r *http.Request) query.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return query.PageRequest{Page: page, Limit: limit}
}

// handleConsentStatus answers the point query behind every access
// decision: does provider X currently hold consent from patient Y for
// data type Z.
func (s *Server) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	patient := q.Get("patient")
	provider := q.Get("provider")
	dataType := q.Get("dataType")
	if patient == "" || provider == "" || dataType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient, provider and dataType are required"})
		return
	}
	status, err := s.query.GetConsentStatus(r.Context(), patient, provider, dataType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetConsent returns one consent record with resolved labels.
func (s *Server) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	detail, err := s.query.GetConsentRecord(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListPatientConsents(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	patient := r.URL.Query().Get("patient")
	if patient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient is required"})
		return
	}
	includeExpired := r.URL.Query().Get("includeExpired") == "true"
	details, meta, err := s.query.GetPatientConsents(r.Context(), patient, includeExpired, pageFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": details, "pagination": meta})
}

func (s *Server) handleListProviderConsents(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider is required"})
		return
	}
	includeExpired := r.URL.Query().Get("includeExpired") == "true"
	details, meta, err := s.query.GetProviderConsents(r.Context(), provider, includeExpired, pageFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": details, "pagination": meta})
}

func (s *Server) handleListPatientRequests(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	patient := r.URL.Query().Get("patient")
	if patient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient is required"})
		return
	}
	requests, meta, err := s.query.GetPatientRequests(r.Context(), patient, r.URL.Query().Get("status"), pageFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": requests, "pagination": meta})
}

func (s *Server) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	patient := r.URL.Query().Get("patient")
	if patient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient is required"})
		return
	}
	entries, meta, err := s.query.GetPatientHistory(r.Context(), patient, pageFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries, "pagination": meta})
}

// handleGetEvents replays a raw range of the event log. from/to are
// inclusive positions; to=0 means the current head.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	from, err := parsePosition(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be a positive integer"})
		return
	}
	to, err := parsePosition(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be a positive integer"})
		return
	}
	events, err := s.query.GetEvents(r.Context(), q.Get("patient"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": events, "count": len(events)})
}

func parsePosition(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (s *Server) handleListDataTypes(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	entries, err := s.query.ListDataTypes()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}

func (s *Server) handleListPurposes(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	entries, err := s.query.ListPurposes()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}
