package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) registerRoutes() {
	r := s.router

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/emails", func(r chi.Router) {
			r.Post("/send", s.handleSend)
			r.Post("/send-template", s.handleSendTemplate)
		})
		r.Route("/templates/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetTemplate)
			r.Post("/preview", s.handlePreview)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.dispatcher.Provider(),
	})
}
