package handlers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TokenVerifier checks a session token.
type TokenVerifier interface {
	VerifyJWT(token string) (*services.Claims, error)
}

type AuthMiddleware struct {
	verifier  TokenVerifier
	responder Responder
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	logger := log.With().Str("handlerName", "authMiddleware").Logger()
	return &AuthMiddleware{
		verifier:  verifier,
		responder: NewResponder(logger),
	}
}

// Auth requires a valid bearer token. Websocket clients cannot set headers,
// so a token query parameter is accepted as well.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			m.responder.WriteError(w, err)
			return
		}

		claims, err := m.verifier.VerifyJWT(tokenString)
		if err != nil {
			m.responder.WriteError(w, errs.NewUnauthorizedError("invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ctxWithClaims(r.Context(), claims)))
	})
}

// RequireAdmin rejects callers whose role is not ADMIN. It must run after Auth.
func (m *AuthMiddleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			m.responder.WriteError(w, errs.NewUnauthorizedError("missing session"))
			return
		}
		if !claims.IsAdmin() {
			m.responder.WriteError(w, errs.NewForbiddenError("admin role required"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", errs.NewUnauthorizedError("missing authorization header")
	}

	authParts := strings.Split(authHeader, " ")
	if len(authParts) != 2 || authParts[0] != "Bearer" || authParts[1] == "" {
		return "", errs.NewUnauthorizedError("invalid authorization format")
	}
	return authParts[1], nil
}

type statusResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.status = statusCode
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.wroteHeader = true
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// RequestLogger logs every request and recovers from panics in handlers.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic")

				if !srw.wroteHeader {
					srw.WriteHeader(http.StatusInternalServerError)
				}
			}

			var event *zerolog.Event
			switch {
			case srw.status >= http.StatusInternalServerError:
				event = log.Error()
			case srw.status >= http.StatusBadRequest:
				event = log.Warn()
			default:
				event = log.Info()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", srw.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()

		next.ServeHTTP(srw, r)
	})
}
