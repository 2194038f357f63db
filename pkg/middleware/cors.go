package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig describes which browser origins may call a service.
type CORSConfig struct {
	// AllowedOrigins lists exact origins. "*" admits any origin.
	AllowedOrigins []string

	// AllowedMethods and AllowedHeaders answer preflight requests. Empty
	// lists fall back to the defaults below.
	AllowedMethods []string
	AllowedHeaders []string

	// ExposedHeaders are readable by browser scripts on actual responses.
	ExposedHeaders []string

	// MaxAge is how long a preflight answer may be cached. Zero means one hour.
	MaxAge time.Duration

	AllowCredentials bool
}

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	defaultCORSHeaders = []string{"Accept", "Authorization", "Content-Type", CorrelationHeader}
)

// DefaultCORSConfig admits any origin. The web client only needs the
// correlation ID exposed; identity headers set by the gateway are for
// upstream services and never leave the cluster.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultCORSMethods,
		AllowedHeaders: defaultCORSHeaders,
		ExposedHeaders: []string{CorrelationHeader},
		MaxAge:         time.Hour,
	}
}

// corsPolicy is a CORSConfig with its header values rendered once.
type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	credentials bool
	preflight   http.Header
	exposed     string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	methods, headers := cfg.AllowedMethods, cfg.AllowedHeaders
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	p := &corsPolicy{
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		credentials: cfg.AllowCredentials,
		exposed:     strings.Join(cfg.ExposedHeaders, ", "),
		preflight: http.Header{
			"Access-Control-Allow-Methods": {strings.Join(methods, ", ")},
			"Access-Control-Allow-Headers": {strings.Join(headers, ", ")},
			"Access-Control-Max-Age":       {strconv.Itoa(int(maxAge / time.Second))},
		},
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not admitted. Browsers refuse "*" on credentialed
// responses, so the origin is echoed instead.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin && !p.credentials {
		return "*"
	}
	if origin == "" {
		return ""
	}
	if _, ok := p.origins[origin]; ok || p.anyOrigin {
		return origin
	}
	return ""
}

func (p *corsPolicy) apply(h http.Header, origin string) {
	if !p.anyOrigin || p.credentials {
		h.Add("Vary", "Origin")
	}
	allowed := p.allowOrigin(origin)
	if allowed == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allowed)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// CORS answers preflight requests with 204 and decorates every other
// response with the origin headers the policy allows.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			p.apply(h, r.Header.Get("Origin"))

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				for k, v := range p.preflight {
					h[k] = v
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if p.exposed != "" {
				h.Set("Access-Control-Expose-Headers", p.exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}
