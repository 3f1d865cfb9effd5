package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"todokeep/store"
)

// shellPages are the HTML documents the gateway precaches: home, the
// offline shell and the top-level section pages.
var shellPages = map[string]string{
	"/":        "Todos",
	"/offline": "Offline",
	"/today":   "Due Today",
	"/tags":    "Tags",
	"/stats":   "Statistics",
}

// NewRouter builds the origin router: the JSON API under /api/ plus the
// shell pages and the web app manifest.
func NewRouter(repo store.Repository, version string) http.Handler {
	h := NewTodoHandler(repo)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/todos", h.List)
		r.Post("/todos", h.Create)
		r.Get("/todos/today", h.Today)
		r.Get("/todos/{id}", h.Get)
		r.Patch("/todos/{id}", h.Update)
		r.Delete("/todos/{id}", h.Delete)
		r.Post("/todos/{id}/toggle", h.Toggle)
		r.Post("/todos/bulk/complete", h.BulkComplete)
		r.Post("/todos/bulk/delete", h.BulkDelete)
		r.Get("/tags", h.Tags)
		r.Get("/stats", h.Stats)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})

	r.Get("/manifest.webmanifest", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		fmt.Fprintf(w, `{"name":"todokeep","short_name":"todokeep","start_url":"/","display":"standalone","version":%q}`, version)
	})

	for path, title := range shellPages {
		title := title
		r.Get(path, func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, shellHTML, title, title)
		})
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}

// shellHTML is the minimal document served for every shell page. The real
// presentation layer lives outside this module; these pages exist so the
// precache set has stable documents to install.
const shellHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>%s - todokeep</title></head>
<body><h1>%s</h1></body>
</html>
`
