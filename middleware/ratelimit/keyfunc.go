package ratelimit

import (
	"net"
	"net/http"
	"path"
	"strings"

	"lms-gateway/middleware/ratelimit/domain"
)

// ClientFunc identifies the client of a request.
type ClientFunc func(r *http.Request) string

// DefaultClientFunc prefers the clientHeader value when set, then the first
// X-Forwarded-For entry when trustXFF is on, then the RemoteAddr host.
func DefaultClientFunc(clientHeader string, trustXFF bool) ClientFunc {
	return func(r *http.Request) string {
		if clientHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(clientHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// first entry is the original client
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// BuildKey joins the policy namespace, the client and the request path.
func BuildKey(namespace, client, path string) domain.Key {
	return domain.Key(namespace + ":" + client + ":" + path)
}

// CanonicalPath folds the spellings of a path that the LMS API routes to the
// same handler: letter case, duplicate slashes, dot segments and a trailing
// slash. "/api/AUTH//login/" becomes "/api/auth/login".
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	return strings.ToLower(path.Clean("/" + p))
}
