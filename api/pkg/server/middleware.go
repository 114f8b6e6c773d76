package server

import (
	"context"
	"net/http"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
)

type contextKey string

const userContextKey contextKey = "username"

// sessionUsername resolves the request's session cookie to an enabled
// account. Lookup renews the session TTL.
func (apiServer *SchedulerAPIServer) sessionUsername(req *http.Request) (string, bool) {
	cookie, err := req.Cookie(auth.SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	username, ok := apiServer.sessions.Lookup(cookie.Value)
	if !ok {
		return "", false
	}
	if !apiServer.scheduler.AuthenticateUser(username) {
		return "", false
	}
	return username, true
}

// requestUser reads the username the auth middleware stored on the context.
func requestUser(req *http.Request) string {
	username, _ := req.Context().Value(userContextKey).(string)
	return username
}

// updateStateMiddleware runs the system tick before every API request, the
// same way the janitor does in the background.
func (apiServer *SchedulerAPIServer) updateStateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		apiServer.scheduler.UpdateSystemState()
		next.ServeHTTP(res, req)
	})
}

func (apiServer *SchedulerAPIServer) requireUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		username, ok := apiServer.sessionUsername(req)
		if !ok {
			writeJSONError(res, "Authentication required.", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(req.Context(), userContextKey, username)
		next.ServeHTTP(res, req.WithContext(ctx))
	})
}

func (apiServer *SchedulerAPIServer) requireAdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if !apiServer.scheduler.IsAdmin(requestUser(req)) {
			writeJSONError(res, "Admin privileges required.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(res, req)
	})
}
