package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

// Router forwards path-prefixed requests to named backend services.
// Bodies stream through without buffering, so long-lived upgrade
// requests are safe to pass along.
type Router struct {
	proxies map[string]*httputil.ReverseProxy
	logger  *logging.Logger
}

// New builds a reverse proxy per declared service. Invalid backend URLs
// are rejected at startup.
func New(services map[string]string, logger *logging.Logger) (*Router, error) {
	r := &Router{
		proxies: make(map[string]*httputil.ReverseProxy, len(services)),
		logger:  logger,
	}
	for name, raw := range services {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid backend URL for service %q: %w", name, err)
		}
		r.proxies[name] = r.build(name, target)
	}
	return r, nil
}

// Has reports whether a service prefix is registered.
func (r *Router) Has(service string) bool {
	_, ok := r.proxies[service]
	return ok
}

// Forward proxies the request to the named service with the prefix
// already stripped into rest. userID, when non-empty, is injected as the
// trust header. Unregistered services yield 404; backend connection
// failures yield a synthesized 502 with no automatic retry.
func (r *Router) Forward(w http.ResponseWriter, req *http.Request, service, rest, userID string) {
	p, ok := r.proxies[service]
	if !ok {
		writeError(w, http.StatusNotFound, "Service not found",
			fmt.Sprintf("no backend registered for %q", service))
		return
	}

	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	req.URL.Path = rest
	req.URL.RawPath = ""

	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	} else {
		// Never trust a caller-supplied identity header.
		req.Header.Del("X-User-Id")
	}

	p.ServeHTTP(w, req)
}

func (r *Router) build(name string, target *url.URL) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.FlushInterval = -1 // stream immediately
	p.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		r.logger.Errorf("Proxy to %s failed: %v", name, err)
		writeError(w, http.StatusBadGateway, "Upstream unavailable",
			fmt.Sprintf("backend %q: %v", name, err))
	}
	return p
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIError{
		Error:      code,
		Detail:     detail,
		StatusCode: status,
	})
}
