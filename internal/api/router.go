package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/evald/internal/metrics"
	"github.com/kalambet/evald/internal/proxy"
)

// RouterDeps holds what the serve command exposes on its single listener.
type RouterDeps struct {
	Upstream *proxy.Client
	Capturer Capturer // nil runs the proxy in passthrough mode
	Store    QueryStore
}

// NewRouter mounts the capture proxy, the query surface and /metrics on one
// router.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)

	mountOpenAI(r, deps.Upstream, deps.Capturer)
	mountQuery(r, deps.Store)
	r.Handle("/metrics", metrics.Handler())
	return r
}
