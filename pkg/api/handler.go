package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vibe-report/pkg/client"
	"vibe-report/pkg/config"
	"vibe-report/pkg/flow"
	"vibe-report/pkg/models"
	"vibe-report/pkg/recorder"
	"vibe-report/pkg/report"
	"vibe-report/pkg/session"
	"vibe-report/pkg/storage"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Exporter renders a stored report as a PDF. *pipeline.Manager satisfies it.
type Exporter interface {
	Export(ctx context.Context, rep *models.Report, variant string) ([]byte, report.ExportStats, error)
}

// HealthChecker probes the analysis backend. *client.Client satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ReportLister is implemented by stores that can enumerate their reports.
type ReportLister interface {
	ListReports() []*models.Report
}

type Handlers struct {
	sessions *session.Manager
	store    storage.Store
	exporter Exporter
	backend  HealthChecker
	upload   config.UploadConfig
	variant  string
	logger   *zap.Logger
}

type Options struct {
	Sessions *session.Manager
	Store    storage.Store
	Exporter Exporter
	// Backend is optional; without it /health does not probe the backend.
	Backend HealthChecker
	Upload  config.UploadConfig
	// Variant is the PDF variant used when the request names none.
	Variant string
	Logger  *zap.Logger
}

func NewHandlers(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: opts.Sessions,
		store:    opts.Store,
		exporter: opts.Exporter,
		backend:  opts.Backend,
		upload:   opts.Upload,
		variant:  opts.Variant,
		logger:   logger,
	}
}

func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	router.HandleFunc("/reports", h.ListReportsHandler).Methods(http.MethodGet)

	router.HandleFunc("/sessions", h.CreateSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}", h.GetSessionHandler).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.ResetSessionHandler).Methods(http.MethodDelete)
	router.HandleFunc("/sessions/{id}/close", h.CloseSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/contact", h.ContactHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/questions/{action:next|prev|skip}", h.QuestionsHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/answers", h.AnswerHandler).Methods(http.MethodPut)
	router.HandleFunc("/sessions/{id}/recording/start", h.StartRecordingHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/recording/stop", h.StopRecordingHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/upload", h.UploadHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/submit", h.SubmitHandler).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/report", h.ReportHandler).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/report.pdf", h.ReportPDFHandler).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/ws", h.WebSocketHandler)

	return router
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":   "healthy",
		"sessions": h.sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}

	if h.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.backend.Health(ctx); err != nil {
			response["backend"] = "unreachable: " + err.Error()
		} else {
			response["backend"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, response)
}

type createSessionRequest struct {
	Variant string `json:"variant"`
}

func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	variant, err := flow.ParseVariant(req.Variant)
	if err != nil {
		h.writeError(w, err)
		return
	}

	s := h.sessions.Create(variant)
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// ResetSessionHandler returns the session to the contact form and drops
// its stored report.
func (h *Handlers) ResetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	snap := s.Reset()
	if h.store != nil {
		if err := h.store.DeleteReport(s.ID()); err != nil && !errors.Is(err, storage.ErrReportNotFound) {
			h.logger.Warn("failed to delete report", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

// CloseSessionHandler ends the session and releases its recorder. The
// stored report stays until it expires.
func (h *Handlers) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Remove(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reportSummary struct {
	SessionID string    `json:"session_id"`
	Variant   string    `json:"variant"`
	Failed    bool      `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}

// ListReportsHandler lists stored reports without contact details.
func (h *Handlers) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.store.(ReportLister)
	if !ok {
		http.Error(w, "Report listing not available", http.StatusNotImplemented)
		return
	}

	reports := lister.ListReports()
	summaries := make([]reportSummary, 0, len(reports))
	for _, rep := range reports {
		summaries = append(summaries, reportSummary{
			SessionID: rep.SessionID,
			Variant:   rep.Variant,
			Failed:    rep.Failed,
			CreatedAt: rep.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": summaries,
		"count":   len(summaries),
	})
}

func (h *Handlers) ContactHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var contact models.ContactInfo
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		http.Error(w, "Invalid contact details", http.StatusBadRequest)
		return
	}

	snap, err := s.SubmitContact(contact)
	h.respond(w, snap, err)
}

func (h *Handlers) QuestionsHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	switch mux.Vars(r)["action"] {
	case "next":
		snap, err := s.Next()
		h.respond(w, snap, err)
	case "prev":
		snap, err := s.Prev()
		h.respond(w, snap, err)
	default:
		snap, err := s.SkipAll()
		h.respond(w, snap, err)
	}
}

type answerRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handlers) AnswerHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid answer", http.StatusBadRequest)
		return
	}

	snap, err := s.SetAnswer(req.Key, req.Value)
	h.respond(w, snap, err)
}

func (h *Handlers) StartRecordingHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	// The capture outlives this request.
	snap, err := s.StartRecording(context.Background())
	h.respond(w, snap, err)
}

func (h *Handlers) StopRecordingHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.StopRecording()
	h.respond(w, snap, err)
}

func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.upload.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, config.ErrFileTooLarge)
			return
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read audio file", http.StatusInternalServerError)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if err := h.upload.ValidateAudioFile(header.Filename, mimeType, int64(len(audioData))); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("audio uploaded",
		zap.String("session_id", s.ID()),
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(audioData)),
	)
	snap, err := s.Upload(r.Context(), header.Filename, mimeType, audioData)
	h.respondSubmission(w, snap, err)
}

func (h *Handlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Submit(r.Context())
	h.respondSubmission(w, snap, err)
}

// respondSubmission answers 200 whenever the submission ran: a failed
// analysis still renders its error result.
func (h *Handlers) respondSubmission(w http.ResponseWriter, snap session.Snapshot, err error) {
	if snap.State == flow.StateResults || snap.State == flow.StateError {
		if err != nil {
			h.logger.Warn("submission failed", zap.String("session_id", snap.ID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	h.respond(w, snap, err)
}

type reportResponse struct {
	SessionID string             `json:"session_id"`
	Failed    bool               `json:"failed"`
	Contact   models.ContactInfo `json:"contact"`
	View      report.View        `json:"view"`
	CreatedAt time.Time          `json:"created_at"`
}

// ReportHandler returns the report view, or plain text with ?format=text.
func (h *Handlers) ReportHandler(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}

	view := report.Build(rep.Result)
	if r.URL.Query().Get("format") == "text" {
		var buf bytes.Buffer
		if err := report.WriteText(&buf, view); err != nil {
			http.Error(w, "Failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(buf.Bytes())
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		SessionID: rep.SessionID,
		Failed:    rep.Failed,
		Contact:   rep.Contact,
		View:      view,
		CreatedAt: rep.CreatedAt,
	})
}

func (h *Handlers) ReportPDFHandler(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}

	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = h.variant
	}

	data, stats, err := h.exporter.Export(r.Context(), rep, variant)
	if err != nil {
		h.logger.Error("pdf export failed", zap.String("session_id", rep.SessionID), zap.Error(err))
		h.writeError(w, err)
		return
	}

	filename := report.Filename(variant, rep.Contact.Name, time.Now())
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Report-Pages", fmt.Sprint(stats.Pages))
	w.Write(data)
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

// report finds the session's report, falling back to the store.
func (h *Handlers) report(w http.ResponseWriter, r *http.Request) (*models.Report, bool) {
	id := mux.Vars(r)["id"]

	if s, err := h.sessions.Get(id); err == nil {
		if rep, err := s.Report(); err == nil {
			return rep, true
		}
	}
	if h.store != nil {
		rep, err := h.store.GetReport(id)
		if err == nil {
			return rep, true
		}
		if !errors.Is(err, storage.ErrReportNotFound) {
			h.writeError(w, err)
			return nil, false
		}
	}

	h.writeError(w, storage.ErrReportNotFound)
	return nil, false
}

func (h *Handlers) respond(w http.ResponseWriter, snap session.Snapshot, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var verrs models.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Fields: verrs})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoReport),
		errors.Is(err, storage.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, session.ErrNoRecorder):
		return http.StatusConflict
	case errors.Is(err, flow.ErrIncomplete),
		errors.Is(err, flow.ErrUnknownQuestion),
		errors.Is(err, flow.ErrInvalidOption),
		errors.Is(err, flow.ErrUnknownVariant):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, config.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, config.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, client.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrNetwork),
		errors.Is(err, client.ErrStatus),
		errors.Is(err, client.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
