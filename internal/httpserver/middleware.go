package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"lv-riskengine/internal/auth"
	"lv-riskengine/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type ctxKey string

const subjectKey ctxKey = "subject"

func internalTokenOK(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	return len(got) == len(token) && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// WithAuth accepts the internal token as a service caller or a bearer JWT.
func WithAuth(svc *auth.Service, internalToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalTokenOK(r, internalToken) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, auth.ServiceSubject)))
				return
			}
			token, ok := bearer(r)
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
				return
			}
			subject, err := svc.ParseToken(token)
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
		})
	}
}

func Subject(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(subjectKey).(string)
	return id, ok && id != ""
}

// RequireAccount rejects callers whose token does not cover the {accountID} route param.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := Subject(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		if !auth.CanRead(subject, chi.URLParam(r, "accountID")) {
			httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "account not accessible"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func InternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
				return
			}
			if !internalTokenOK(r, token) {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			if reqOrigin != "" && (origin == "" || origin == "*" || strings.EqualFold(reqOrigin, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", reqOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
