package auth

import (
	"net/http"
)

// Request headers trusted in header mode. A fronting service sets these
// after authenticating the user.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// AnonymousUserID is the user id injected in anonymous mode.
const AnonymousUserID = "anonymous"

// Middleware returns the identity middleware for the given mode. Any mode
// other than "header" falls back to anonymous.
func Middleware(mode string) func(http.Handler) http.Handler {
	if mode == "header" {
		return HeaderMiddleware
	}
	return AnonymousMiddleware
}

// HeaderMiddleware reads the caller identity from trusted headers.
// Requests without a user id header are rejected with 401.
func HeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"missing ` + UserIDHeader + ` header"}`))
			return
		}
		identity := &Identity{
			UserID: userID,
			Role:   r.Header.Get(UserRoleHeader),
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// AnonymousMiddleware injects a fixed anonymous identity. The identity
// carries the admin role so the management surface is fully usable when
// authentication is disabled.
func AnonymousMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := &Identity{
			UserID: AnonymousUserID,
			Role:   RoleAdmin,
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
