package security

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Headers configures common security headers for HTTP responses.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// ContentSecurityPolicy is sent verbatim when set.
	ContentSecurityPolicy string
}

// Middleware attaches standard security headers to each response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enable {
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=()")
		if csp := strings.TrimSpace(h.ContentSecurityPolicy); csp != "" {
			headers.Set("Content-Security-Policy", csp)
		}
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			value := "max-age=" + strconv.Itoa(maxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}

// CheckoutCSP returns a policy for the payment pages: forms may only post to
// this service or the gateway, and scripts may only load from the widget host.
// Inline scripts are allowed for the auto-submit and widget bootstrap.
func CheckoutCSP(gatewayURL, widgetScriptURL string) string {
	gateway := origin(gatewayURL)
	widget := origin(widgetScriptURL)
	directives := []string{
		"default-src 'self'",
		strings.TrimSpace("form-action 'self' " + gateway),
		strings.TrimSpace("script-src 'self' 'unsafe-inline' " + widget),
		strings.TrimSpace("frame-src 'self' " + joinOrigins(gateway, widget)),
		"frame-ancestors 'none'",
	}
	return strings.Join(directives, "; ")
}

func origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func joinOrigins(origins ...string) string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return strings.Join(out, " ")
}
