package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subsync/internal/config"
	"subsync/internal/store"
	"subsync/pkg/icron"
)

type fileSummary struct {
	ID         string           `json:"id"`
	Path       string           `json:"path"`
	Checksum   string           `json:"checksum"`
	DurationMS int64            `json:"duration_ms"`
	SourceLang string           `json:"source_lang,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Statuses   []statusResponse `json:"statuses"`
}

type statusResponse struct {
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type fileDetail struct {
	fileSummary
	Scores    []scoreResponse `json:"scores"`
	Languages map[string]int  `json:"segment_languages"`
	Errors    []errorEntry    `json:"recent_errors"`
}

type scoreResponse struct {
	Lang      string    `json:"lang"`
	Score     float64   `json:"score"`
	Issues    []string  `json:"issues,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type errorEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func statusResponses(statuses []store.ProcessingStatus) []statusResponse {
	ret := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		ret = append(ret, statusResponse{
			Stage:      string(st.Stage),
			Status:     string(st.Status),
			Attempts:   st.Attempts,
			RetryAfter: st.RetryAfter,
			LastError:  st.LastError,
			UpdatedAt:  st.UpdatedAt,
		})
	}
	return ret
}

func (s *Server) fileSummary(r *http.Request, m store.MediaFile) (fileSummary, error) {
	statuses, err := s.store.FileStatuses(r.Context(), m.ID)
	if err != nil {
		return fileSummary{}, err
	}
	return fileSummary{
		ID:         m.ID,
		Path:       m.Path,
		Checksum:   m.Checksum,
		DurationMS: m.Duration.Milliseconds(),
		SourceLang: m.SourceLang,
		CreatedAt:  m.CreatedAt,
		Statuses:   statusResponses(statuses),
	}, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	media, err := s.store.ListMedia(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ret := make([]fileSummary, 0, len(media))
	for _, m := range media {
		summary, err := s.fileSummary(r, m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ret = append(ret, summary)
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleFile dispatches /api/files/{id}[/transcript|/errors|/reset].
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
	id, action, _ := strings.Cut(rest, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing file id")
		return
	}

	switch action {
	case "":
		s.handleFileDetail(w, r, id)
	case "transcript":
		s.handleTranscript(w, r, id)
	case "reset":
		s.handleReset(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleFileDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	media, err := s.store.GetMedia(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summary, err := s.fileSummary(r, *media)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	scores, err := s.store.Scores(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	langs, err := s.store.SegmentLanguages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recent, err := s.store.RecentErrors(r.Context(), id, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	detail := fileDetail{
		fileSummary: summary,
		Scores:      make([]scoreResponse, 0, len(scores)),
		Languages:   langs,
		Errors:      make([]errorEntry, 0, len(recent)),
	}
	for _, sc := range scores {
		detail.Scores = append(detail.Scores, scoreResponse{
			Lang:      sc.Lang,
			Score:     sc.Score,
			Issues:    sc.Issues,
			UpdatedAt: sc.UpdatedAt,
		})
	}
	for _, rec := range recent {
		detail.Errors = append(detail.Errors, errorEntry{
			Stage:     string(rec.Stage),
			Message:   rec.Message,
			Detail:    rec.Detail,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	media, err := s.store.GetMedia(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = media.SourceLang
	}
	if lang == "" {
		writeError(w, http.StatusBadRequest, "lang is required before transcription completes")
		return
	}
	text, err := s.store.Transcript(r.Context(), id, lang)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

type resetRequest struct {
	Stage string `json:"stage"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Stage == "" {
		writeError(w, http.StatusBadRequest, "stage is required")
		return
	}
	if err := s.store.ResetStatus(r.Context(), id, store.Stage(req.Stage)); err != nil {
		writeStoreError(w, err)
		return
	}
	statuses, err := s.store.FileStatuses(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponses(statuses))
}

type triggerResponse struct {
	Expression    string    `json:"expression"`
	Last          time.Time `json:"last"`
	Next          time.Time `json:"next"`
	TimeSinceLast string    `json:"time_since_last"`
	TimeUntilNext string    `json:"time_until_next"`
}

func triggerResponseFrom(info *icron.TriggerInfo) *triggerResponse {
	if info == nil {
		return nil
	}
	return &triggerResponse{
		Expression:    info.Expression,
		Last:          info.Last,
		Next:          info.Next,
		TimeSinceLast: info.TimeSinceLast.String(),
		TimeUntilNext: info.TimeUntilNext.String(),
	}
}

type reportResponse struct {
	Total           int              `json:"total"`
	Pending         int              `json:"pending"`
	InProgress      int              `json:"in_progress"`
	Completed       int              `json:"completed"`
	FailedPermanent int              `json:"failed_permanent"`
	Scan            *triggerResponse `json:"scan,omitempty"`
	Audit           *triggerResponse `json:"audit,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.store.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report := reportResponse{
		Total:           health.Total,
		Pending:         health.Pending,
		InProgress:      health.InProgress,
		Completed:       health.Completed,
		FailedPermanent: health.FailedPermanent,
	}
	if s.scan != nil {
		if info, err := s.scan.Trigger(); err == nil {
			report.Scan = triggerResponseFrom(info)
		}
	}
	if s.audit != nil {
		if info, err := s.audit.Trigger(); err == nil {
			report.Audit = triggerResponseFrom(info)
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := s.store.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scan == nil {
		writeError(w, http.StatusNotImplemented, "scan service is not configured")
		return
	}
	// Scans can take a while on large libraries; detach from the request.
	go s.scan.RunNow(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type findingResponse struct {
	MediaID string `json:"media_id"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Lang    string `json:"lang,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit service is not configured")
		return
	}
	findings := s.audit.RunNow(r.Context())
	ret := make([]findingResponse, 0, len(findings))
	for _, f := range findings {
		ret = append(ret, findingResponse{
			MediaID: f.MediaID,
			Path:    f.Path,
			Kind:    string(f.Kind),
			Stage:   string(f.Stage),
			Lang:    f.Lang,
			Detail:  f.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"findings": ret,
		"count":    len(ret),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
