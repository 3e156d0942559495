// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"modelinstall/pkg/install"
)

// ImportRequest is the request body for POST /api/models.
type ImportRequest struct {
	Source      string `json:"source"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Inplace     bool   `json:"inplace,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleImportModel parses a source string with install.ParseSource
// and hands it to the Service.
func (s *Server) handleImportModel(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "missing required field: source", "")
		return
	}

	overrides := install.ConfigOverrides{
		Name:        req.Name,
		Description: req.Description,
	}

	src, err := install.ParseSource(req.Source, overrides, req.AccessToken, req.Inplace, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unrecognized source", err.Error())
		return
	}

	job, err := s.svc.ImportModel(r.Context(), src, overrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start install", err.Error())
		return
	}

	snap, err := s.svc.GetJobByID(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read job state", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleListModels returns every persisted model record.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.records.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list models", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// handleDeleteModel removes a model record and, if it lives under the
// models root, its backing file.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing model key", "")
		return
	}
	if err := s.svc.Delete(r.Context(), key); err != nil {
		if errKindIs(err, install.KindNotFound) {
			writeError(w, http.StatusNotFound, "model not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete model", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "model deleted"})
}

// handleListJobs returns every tracked install job.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.svc.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job's snapshot.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	job, err := s.svc.GetJobByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a running or queued job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	if err := s.svc.CancelJob(id); err != nil {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "job cancelled"})
}

func jobIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func errKindIs(err error, kind install.Kind) bool {
	var ierr *install.Error
	if !errors.As(err, &ierr) {
		return false
	}
	return ierr.Kind == kind
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
