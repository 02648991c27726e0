package httpmiddleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowOrigins is a list of origins that are allowed to make cross-origin
	// requests. An empty list or the single entry "*" means all origins are
	// allowed.
	AllowOrigins []string

	// AllowMethods lists the HTTP methods clients may use in actual requests.
	// Defaults to "GET, POST, PATCH, OPTIONS" when empty.
	AllowMethods []string

	// AllowHeaders lists the request headers clients may use.
	// If empty, DefaultAllowHeaders is used.
	AllowHeaders []string

	// ExposeHeaders lists response headers the browser is allowed to access.
	// If empty, DefaultExposeHeaders is used.
	ExposeHeaders []string

	// AllowCredentials indicates whether the response to a request can be
	// exposed when the credentials flag is true. When true, the wildcard
	// origin "*" must not be used; the middleware echoes the specific origin.
	AllowCredentials bool

	// MaxAge indicates how long (in seconds) preflight results can be cached.
	// A zero value omits the header; a negative value sends "0".
	MaxAge int
}

// DefaultAllowHeaders are the request headers the shop API reads.
var DefaultAllowHeaders = []string{"Content-Type", "Idempotency-Key", "X-API-Key", "X-Request-ID"}

// DefaultExposeHeaders lets storefront scripts read the request id and the
// rate limit budget.
var DefaultExposeHeaders = []string{
	"X-Request-ID",
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
}

// corsPolicy is a CORSConfig with its header values rendered once.
type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]string // lower-case -> configured
	credentials bool
	methods     string
	headers     string
	expose      string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		anyOrigin:   len(cfg.AllowOrigins) == 0 || slices.Contains(cfg.AllowOrigins, "*"),
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		credentials: cfg.AllowCredentials,
		methods:     "GET, POST, PATCH, OPTIONS",
		headers:     strings.Join(DefaultAllowHeaders, ", "),
		expose:      strings.Join(DefaultExposeHeaders, ", "),
	}
	for _, o := range cfg.AllowOrigins {
		if o != "*" {
			p.origins[strings.ToLower(o)] = o
		}
	}
	// Browsers reject credentials with a wildcard origin, so the concrete
	// origin is echoed instead.
	if p.credentials && p.anyOrigin {
		p.anyOrigin = false
	}
	if len(cfg.AllowMethods) > 0 {
		p.methods = strings.Join(cfg.AllowMethods, ", ")
	}
	if len(cfg.AllowHeaders) > 0 {
		p.headers = strings.Join(cfg.AllowHeaders, ", ")
	}
	if len(cfg.ExposeHeaders) > 0 {
		p.expose = strings.Join(cfg.ExposeHeaders, ", ")
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin {
		return "*"
	}
	if o, ok := p.origins[strings.ToLower(origin)]; ok {
		return o
	}
	// With credentials on and no explicit list every origin is echoed.
	if p.credentials && len(p.origins) == 0 {
		return origin
	}
	return ""
}

func (p *corsPolicy) preflight(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allow := p.allowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		h.Set("Access-Control-Allow-Headers", p.headers)
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, origin string) {
	h := w.Header()
	if !p.anyOrigin {
		h.Add("Vary", "Origin")
	}
	if origin == "" {
		return
	}
	allow := p.allowOrigin(origin)
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.expose != "" {
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing for
// the storefront.
//
// Origins match case-insensitively and are echoed back in their configured
// case. Preflight requests are detected by the Access-Control-Request-Method
// header and answered with 204 without reaching the API.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, origin)
				return
			}
			p.actual(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}
