package proxy

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/chain"
)

// OriginConfig names one upstream Git host the proxy may forward to.
type OriginConfig struct {
	// Host is the registered hostname; requests under "/{host}/" route
	// here.
	Host string
	// Upstream is the base URL requests are forwarded to.
	Upstream string
}

// RouterConfig is everything needed to build a routing table.
type RouterConfig struct {
	// Origins are the registered upstreams, matched in order.
	Origins []OriginConfig
	// Default receives requests matching no registered prefix,
	// preserving single-origin deployments that address repositories
	// directly under the proxy root.
	Default string
	// ChainTimeout bounds each policy chain execution.
	ChainTimeout time.Duration
}

// origin pairs a path prefix with its forwarding handler. Each origin
// runs its own filter instance so per-origin policy stays a seam rather
// than shared global state.
type origin struct {
	prefix string
	target *url.URL
	filter *Filter
	proxy  *httputil.ReverseProxy
}

// Router dispatches inbound requests across the registered upstream
// origins. The table is immutable once built; config reloads construct
// a new Router and swap it in via Reloadable.
type Router struct {
	origins  []*origin
	fallback *origin
	logger   *log.Logger
}

// NewRouter builds the routing table. Origin prefixes are derived from
// the configured hosts and registered deterministically (sorted by
// host).
func NewRouter(cfg RouterConfig, executor chain.Executor, logger *log.Logger) (*Router, error) {
	router := &Router{logger: logger}

	sorted := make([]OriginConfig, len(cfg.Origins))
	copy(sorted, cfg.Origins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Host < sorted[j].Host })

	for _, oc := range sorted {
		o, err := newOrigin("/"+oc.Host+"/", oc.Upstream, executor, cfg.ChainTimeout, logger)
		if err != nil {
			return nil, err
		}
		router.origins = append(router.origins, o)
		logger.Printf("Registered origin %s -> %s", o.prefix, oc.Upstream)
	}

	fallback, err := newOrigin("", cfg.Default, executor, cfg.ChainTimeout, logger)
	if err != nil {
		return nil, err
	}
	router.fallback = fallback
	logger.Printf("Default origin: %s", cfg.Default)
	return router, nil
}

func newOrigin(prefix, upstream string, executor chain.Executor, timeout time.Duration, logger *log.Logger) (*origin, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "parse upstream %q", upstream)
	}
	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorLog = logger
	rp.FlushInterval = -1
	return &origin{
		prefix: prefix,
		target: target,
		filter: NewFilter(executor, target, timeout, logger),
		proxy:  rp,
	}, nil
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if o.prefix != "" {
		// Strip the "/{host}" routing prefix before the upstream sees
		// the path.
		r.URL.Path = strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(o.prefix, "/"))
	}
	if !o.filter.Allow(w, r) {
		return
	}
	r.Host = o.target.Host
	o.proxy.ServeHTTP(w, r)
}

func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthcheck" {
		header := w.Header()
		header.Set("Content-Type", "text/plain")
		header.Set("Pragma", "no-cache")
		header.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	for _, o := range router.origins {
		if strings.HasPrefix(r.URL.Path, o.prefix) {
			o.ServeHTTP(w, r)
			return
		}
	}
	router.fallback.ServeHTTP(w, r)
}

// Reloadable serves whichever Router was most recently swapped in.
// Steady-state routing reads an immutable table; reloads are a single
// pointer swap.
type Reloadable struct {
	current atomic.Pointer[Router]
}

// NewReloadable wraps an initial router.
func NewReloadable(r *Router) *Reloadable {
	h := &Reloadable{}
	h.current.Store(r)
	return h
}

// Swap installs a freshly built router.
func (h *Reloadable) Swap(r *Router) {
	h.current.Store(r)
}

func (h *Reloadable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().ServeHTTP(w, r)
}
