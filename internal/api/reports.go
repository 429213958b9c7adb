package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/protezlab/reportgate/internal/store"
)

// me answers with the claims of the signed in user.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"user":   claims,
	})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.FindAll(r.Context())
	if err != nil {
		s.logger.Error("unable to list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"reports": reports,
	})
}

type addReport struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var in addReport
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report")
		return
	}
	report, err := s.reports.Add(r.Context(), &store.Report{Title: in.Title, Content: in.Content})
	switch {
	case errors.Is(err, store.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, "report title is required")
		return
	case err != nil:
		s.logger.Error("unable to add report", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to add report")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "ok",
		"report": report,
	})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.FindAll(r.Context())
	if err != nil {
		s.logger.Error("unable to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"users":  users,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
