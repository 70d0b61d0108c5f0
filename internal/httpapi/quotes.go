package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/quotes"
)

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type ingestRequest struct {
	quotes.Artifact
	StorageKey string `json:"storageKey"`
}

type captionRequest struct {
	Caption *string `json:"caption"`
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	page, err := s.service.Page(r.Context(), claims.Subject, quotes.ParseQuery(r.URL.Query()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []quotes.Artifact{}
	}
	render.JSON(w, r, page)
}

func (s *Server) handleDeleteQuote(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "bad_request", "quote id is required")
		return
	}
	if err := s.service.Delete(r.Context(), claims.Subject, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, deleteResponse{Deleted: 1})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req bulkDeleteRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "ids must not be empty")
		return
	}
	if len(req.IDs) > s.cfg.MaxBulkDelete {
		writeError(w, r, http.StatusBadRequest, "bad_request", "at most "+strconv.Itoa(s.cfg.MaxBulkDelete)+" ids per request")
		return
	}
	n, err := s.service.DeleteMany(r.Context(), claims.Subject, req.IDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, deleteResponse{Deleted: n})
}

func (s *Server) handleIngestQuote(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	artifact := req.Artifact
	artifact.StorageKey = req.StorageKey
	created, err := s.service.Ingest(r.Context(), artifact)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, created)
}

func (s *Server) handleModerateQuote(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	removed, err := s.service.Moderate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"moderator": claims.Subject,
		"owner":     removed.OwnerID,
		"quote":     removed.ID,
	}).Info("quote removed by moderator")
	render.JSON(w, r, deleteResponse{Deleted: 1})
}

func (s *Server) handleEditCaption(w http.ResponseWriter, r *http.Request) {
	var req captionRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caption == nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "caption is required")
		return
	}
	updated, err := s.service.EditCaption(r.Context(), chi.URLParam(r, "id"), *req.Caption)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, updated)
}
