package gateway

import (
	"crypto/subtle"
	"net/http"
)

// authenticator enforces HTTP basic auth on the API and event stream.
// Credentials come from the admin section of the config; when that section
// is absent the gateway runs open.
type authenticator struct {
	username string
	password string
}

func newAuthenticator(username, password string) *authenticator {
	return &authenticator{username: username, password: password}
}

// middleware wraps next and rejects requests without valid credentials.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		// Compare both fields regardless of which failed.
		userOK := secureCompare(user, a.username)
		passOK := secureCompare(pass, a.password)
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="issuebot"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
