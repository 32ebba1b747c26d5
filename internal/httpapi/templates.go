package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shineum/mailgate/internal/dispatch"
)

type previewRequest struct {
	TemplateVariables map[string]any `json:"template_variables"`
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		writeError(w, dispatch.ErrNoStore)
		return
	}

	body, err := s.templates.Template(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeHTML(w, body)
}

// handlePreview renders a stored template. The rendered HTML is returned
// as-is when the client accepts text/html, otherwise as JSON.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := s.decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, decodeStatus(err), fmt.Sprintf("invalid request body: %v", err))
		return
	}

	preview, err := s.dispatcher.Preview(r.Context(), chi.URLParam(r, "name"), stringifyVariables(req.TemplateVariables))
	if err != nil {
		writeError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		writeHTML(w, preview.Body)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}
