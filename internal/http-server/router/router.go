package router

import (
	"net/http"

	"image-pipeline/internal/http-server/handler/processing"
	"image-pipeline/internal/http-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/wb-go/wbf/zlog"
)

type Handler struct {
	Processing *processing.Handler
	Auth       *middleware.Authenticator
	Logger     *zlog.Zerolog
}

func SetupRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(h.Logger))
	r.Use(middleware.Logging(h.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.JSONContentType)
		r.Use(h.Auth.Middleware)

		r.Route("/processing", func(r chi.Router) {
			r.Post("/process", h.Processing.Process)
			r.Post("/process/batch", h.Processing.ProcessBatch)
			r.Get("/history", h.Processing.History)
			r.Delete("/history/{id}", h.Processing.DeleteTask)
			r.Get("/task/{id}", h.Processing.GetTask)
			r.Get("/result/{id}", h.Processing.GetResult)
			r.Get("/queue/status", h.Processing.QueueStatus)
			r.Post("/queue/cancel/{id}", h.Processing.Cancel)
			r.Post("/reprocess/{id}", h.Processing.Reprocess)
			r.Get("/stats", h.Processing.Stats)
		})
	})

	return r
}
