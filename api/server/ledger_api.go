package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"consentchain/core/ledger"
	"consentchain/core/projection"
	"consentchain/core/registry"
	"consentchain/core/validation"
)

type grantPayload struct {
	Provider  string   `json:"provider"`
	DataTypes []string `json:"dataTypes"`
	Purposes  []string `json:"purposes"`
	ExpiresAt string   `json:"expiresAt,omitempty"`
}

type requestPayload struct {
	Patient   string   `json:"patient"`
	DataTypes []string `json:"dataTypes"`
	Purposes  []string `json:"purposes"`
	ExpiresAt string   `json:"expiresAt,omitempty"`
}

type respondPayload struct {
	RequestID string `json:"requestId"`
	Approve   bool   `json:"approve"`
}

func parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// handleGrantConsent applies grantConsent for the authenticated
// patient.
func (s *Server) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validation.ValidateGrantPayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var payload grantPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	expiresAt, err := parseExpiry(payload.ExpiresAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expiresAt must be RFC3339"})
		return
	}
	consentID, err := s.ledger.GrantConsent(caller, payload.Provider, payload.DataTypes, payload.Purposes, expiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"consentId": consentID, "status": "accepted"})
}

// handleRevokeConsent deactivates a consent owned by the caller.
func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var payload struct {
		ConsentID string `json:"consentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ConsentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "consentId required"})
		return
	}
	if err := s.ledger.RevokeConsent(caller, payload.ConsentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleRequestAccess records an access request from the authenticated
// provider.
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validation.ValidateRequestPayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var payload requestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	expiresAt, err := parseExpiry(payload.ExpiresAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expiresAt must be RFC3339"})
		return
	}
	requestID, err := s.ledger.RequestAccess(caller, payload.Patient, payload.DataTypes, payload.Purposes, expiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"requestId": requestID, "status": "accepted"})
}

// handleRespondToRequest settles a pending request as the addressed
// patient.
func (s *Server) handleRespondToRequest(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validation.ValidateRespondPayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var payload respondPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	consentID, err := s.ledger.RespondToAccessRequest(caller, payload.RequestID, payload.Approve)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]string{"status": "accepted"}
	if consentID != "" {
		resp["consentId"] = consentID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProjectionTick runs one projection tick for a category. The
// scheduler normally drives this; operators can also hit it before a
// latency-sensitive read.
func (s *Server) handleProjectionTick(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	cat := ledger.Category(r.URL.Query().Get("category"))
	result, err := s.engine.Tick(cat)
	if err == projection.ErrTickInProgress {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type legacyImportPayload struct {
	ID              string `json:"id"`
	PatientAddress  string `json:"patientAddress"`
	ProviderAddress string `json:"providerAddress"`
	DataType        string `json:"dataType"`
	Purpose         string `json:"purpose"`
	CreatedAt       string `json:"createdAt"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	Active          *bool  `json:"active,omitempty"`
}

// handleImportLegacy ingests one pre-batch record from the previous
// deployment, preserving its original single-combination shape.
func (s *Server) handleImportLegacy(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validation.ValidateLegacyImportPayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var payload legacyImportPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	createdAt, err := time.Parse(time.RFC3339, payload.CreatedAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "createdAt must be RFC3339"})
		return
	}
	expiresAt, err := parseExpiry(payload.ExpiresAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expiresAt must be RFC3339"})
		return
	}
	reg := s.ledger.Registry()
	dataTypeHash, err := reg.Intern(payload.DataType, registry.KindDataType)
	if err != nil {
		writeError(w, err)
		return
	}
	purposeHash, err := reg.Intern(payload.Purpose, registry.KindPurpose)
	if err != nil {
		writeError(w, err)
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	legacy := ledger.LegacyConsent{
		ID:              payload.ID,
		PatientAddress:  payload.PatientAddress,
		ProviderAddress: payload.ProviderAddress,
		CreatedAt:       createdAt.UTC(),
		ExpiresAt:       expiresAt,
		Active:          active,
		DataTypeHash:    dataTypeHash,
		PurposeHash:     purposeHash,
	}
	if err := s.ledger.ImportLegacyConsent(legacy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported", "consentId": payload.ID})
}
