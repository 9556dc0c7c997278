package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/thep200/github-contrib-scanner/api"
	"github.com/thep200/github-contrib-scanner/cfg"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/queue"
)

const maxListLimit = 100

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type scanRequest struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type scanQueuedResponse struct {
	Success bool   `json:"success"`
	ScanID  string `json:"scanId"`
	Message string `json:"message"`
}

type scanStatusResponse struct {
	Success bool           `json:"success"`
	Scan    *model.ScanJob `json:"scan"`
}

type syncScanResponse struct {
	Success bool `json:"success"`
	*api.SyncScanResult
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest), errors.Is(err, api.ErrUsernameRequired):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrAlreadyQueued):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, githubapi.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, githubapi.ErrRateLimited), errors.Is(err, cfg.ErrMissingToken):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error(r.Context(), "%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, err.Error())
}

// parseLimit returns 0 when the parameter is absent or invalid so the service
// applies its default.
func parseLimit(r *http.Request, ceiling int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		return 0
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.DatabaseStatus(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

func (s *Server) handleEnqueueScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scanID, err := s.Service.Enqueue(r.Context(), req.Username, req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scanQueuedResponse{
		Success: true,
		ScanID:  scanID,
		Message: "Scan queued",
	})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scanId")
	if scanID == "" {
		writeError(w, http.StatusBadRequest, "scanId is required")
		return
	}

	scan, err := s.Service.Status(r.Context(), scanID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scanStatusResponse{Success: true, Scan: scan})
}

func (s *Server) handleSyncScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.Service.ScanNow(r.Context(), r.URL.Query().Get("username"), parseLimit(r, maxListLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncScanResponse{Success: true, SyncScanResult: result})
}

func (s *Server) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Service.CheckToken(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Service.Leaderboard(r.Context(), r.URL.Query().Get("type"), parseLimit(r, maxListLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "leaderboard": entries})
}

func (s *Server) handleUserPoints(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Service.UserPoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "points": summary})
}

func (s *Server) handleUserActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.Service.RecentActivity(r.Context(), chi.URLParam(r, "id"), parseLimit(r, maxListLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activities": activities})
}

func (s *Server) handleUserContributions(w http.ResponseWriter, r *http.Request) {
	contributions, err := s.Service.ContributionHistory(r.Context(), chi.URLParam(r, "id"), parseLimit(r, maxListLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contributions": contributions})
}
