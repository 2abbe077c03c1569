package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/ingest"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	leads, err := ingest.Load(r.Context(), header.Filename, file, s.deps.Ingest)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := OwnerFrom(r.Context())
	id, err := s.deps.Store.CreateBatch(r.Context(), owner, header.Filename, len(leads))
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if err := s.deps.Store.SaveItems(r.Context(), id, leads); err != nil {
		s.respondInternal(w, r, err)
		return
	}
	upload, err := s.deps.Store.GetBatch(r.Context(), id)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}

	s.log.Info("upload stored",
		zap.String("upload_id", id),
		zap.String("owner", owner),
		zap.Int("rows", len(leads)),
	)
	respondJSON(w, http.StatusCreated, upload)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BatchFilter{
		Owner:  OwnerFrom(r.Context()),
		Status: model.UploadStatus(q.Get("status")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	uploads, err := s.deps.Store.ListBatches(r.Context(), filter)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if uploads == nil {
		uploads = []model.CsvUpload{}
	}
	respondJSON(w, http.StatusOK, uploads)
}

// ownedUpload loads the upload named in the URL, answering 404 when it is
// missing or belongs to someone else.
func (s *Server) ownedUpload(w http.ResponseWriter, r *http.Request) (*model.CsvUpload, bool) {
	upload, err := s.deps.Store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && upload.Owner != OwnerFrom(r.Context())) {
		respondError(w, http.StatusNotFound, "upload not found")
		return nil, false
	}
	if err != nil {
		s.respondInternal(w, r, err)
		return nil, false
	}
	return upload, true
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}
	resp := struct {
		*model.CsvUpload
		ActiveRunID string `json:"activeRunId,omitempty"`
	}{CsvUpload: upload}
	if runID, busy := s.deps.Orchestrator.Active(upload.ID); busy {
		resp.ActiveRunID = runID
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}
	items, err := s.deps.Store.ListItems(r.Context(), upload.ID)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if items == nil {
		items = []model.LeadItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

// processRequest is the body of POST /api/uploads/{id}/process.
type processRequest struct {
	ProductService string                  `json:"productService"`
	Tonality       string                  `json:"tonality"`
	Language       string                  `json:"language"`
	Mode           string                  `json:"mode"`
	Endpoint       string                  `json:"endpoint"`
	Upsell         *model.UpsellOptions    `json:"upsellOptions"`
	Restrictions   *model.DataRestrictions `json:"dataStreamingRestrictions"`
}

type processResponse struct {
	RunID    string             `json:"runId"`
	UploadID string             `json:"uploadId"`
	Mode     orchestrator.Mode  `json:"mode"`
	Total    int                `json:"total"`
	Endpoint string             `json:"endpoint"`
	Status   model.UploadStatus `json:"status"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}

	enabled, err := s.deps.Settings.Enabled(r.Context())
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	if !enabled {
		respondError(w, http.StatusForbidden, "outreach is disabled")
		return
	}

	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tonality, err := model.ParseTonality(body.Tonality)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := s.deps.Mode
	if strings.TrimSpace(body.Mode) != "" {
		if mode, err = orchestrator.ParseMode(body.Mode); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items, err := s.deps.Store.ListItems(r.Context(), upload.ID)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}

	req := orchestrator.RunRequest{
		UploadID: upload.ID,
		Leads:    store.Leads(items),
		Config: model.PersonalizationConfig{
			ProductService: strings.TrimSpace(body.ProductService),
			Tonality:       tonality,
			Language:       strings.TrimSpace(body.Language),
			Upsell:         body.Upsell,
			Restrictions:   body.Restrictions,
		},
		Endpoint: s.deps.Settings.ResolveEndpoint(r.Context(), body.Endpoint, s.deps.Endpoint),
		Mode:     mode,
	}

	run, err := s.deps.Orchestrator.Start(s.runCtx, req)
	var missing *orchestrator.MissingRequirementsError
	switch {
	case errors.As(err, &missing):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Missing: missing.Missing})
		return
	case errors.Is(err, orchestrator.ErrRunInProgress):
		runID, _ := s.deps.Orchestrator.Active(upload.ID)
		respondJSON(w, http.StatusConflict, errorBody{Error: "a run is already in progress for this upload", RunID: runID})
		return
	case err != nil:
		s.respondInternal(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, processResponse{
		RunID:    run.ID,
		UploadID: upload.ID,
		Mode:     mode,
		Total:    len(req.Leads),
		Endpoint: req.Endpoint,
		Status:   model.UploadStatusProcessing,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	t, ok := s.deps.Orchestrator.Tracker(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	snap := t.Snapshot()
	// Runs are scoped to their upload's owner.
	upload, err := s.deps.Store.GetBatch(r.Context(), snap.UploadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		s.respondInternal(w, r, err)
		return
	case upload.Owner != OwnerFrom(r.Context()):
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	endpoint := s.deps.Settings.ResolveEndpoint(r.Context(), body.Endpoint, s.deps.Endpoint)
	if endpoint == "" {
		respondError(w, http.StatusBadRequest, "no webhook endpoint configured")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Diagnostics.Run(r.Context(), endpoint))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Settings.All(r.Context())
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, all)
}

// handlePutSettings applies a map of setting names (as accepted by
// settings.Store.Set) to values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	valid := make(map[string]bool)
	for _, n := range settings.Names() {
		valid[n] = true
	}
	for name := range body {
		if !valid[name] {
			respondError(w, http.StatusBadRequest, "unknown setting "+strconv.Quote(name))
			return
		}
	}
	for _, name := range settings.Names() {
		value, ok := body[name]
		if !ok {
			continue
		}
		if err := s.deps.Settings.Set(r.Context(), name, value); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.handleGetSettings(w, r)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
