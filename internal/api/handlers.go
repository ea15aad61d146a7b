package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"loan-risk/internal/auth"
	"loan-risk/internal/dashboard"
	"loan-risk/internal/loan"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if isJSON(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "invalid request body"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "invalid form"})
			return
		}
		req.Username, req.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	token, err := s.sessions.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.LoginInc("rejected")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid username or password"})
			return
		}
		s.metrics.LoginInc("error")
		log.Error().Err(err).Msg("Login failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage", Message: "session could not be opened"})
		return
	}
	s.metrics.LoginInc("ok")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), sessionToken(r)); err != nil {
		log.Warn().Err(err).Msg("Logout failed")
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: s.secure})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := readApplication(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.service.HandleScoreRequest(ctx, raw, sessionToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	view, err := s.service.HandleDashboardRequest(ctx, sessionToken(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := dashboard.Render(w, dashboard.PageData{
			Columns: view.Columns,
			Records: view.Records,
			Summary: view.Summary(),
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to render dashboard")
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Authorized(r.Context(), sessionToken(r)) {
		writeError(w, loan.ErrUnauthorized)
		return
	}
	s.live.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"model_version": s.info.ModelVersion,
		"model_kind":    s.info.ModelKind,
		"profile":       s.info.Profile,
		"history":       s.info.History,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	})
}

// readApplication accepts a JSON object or a form post. JSON numbers stay
// json.Number so the codec applies one coercion rule to both encodings.
func readApplication(w http.ResponseWriter, r *http.Request) (loan.RawApplication, error) {
	if isJSON(r) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, loan.NewValidationError("", "request body is not a JSON object")
		}
		return loan.RawApplication(raw), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, loan.NewValidationError("", "malformed form body")
	}
	raw := make(loan.RawApplication, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			raw[k] = vs[0]
		}
	}
	return raw, nil
}

// sessionToken reads the session cookie, falling back to a bearer token.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeError maps the error taxonomy onto status codes. Only validation
// reasons reach the client verbatim.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: loan.Kind(err)}
	var status int

	switch resp.Error {
	case "validation":
		status = http.StatusBadRequest
		var ve *loan.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
			resp.Message = ve.Reason
		}
	case "unauthorized":
		status = http.StatusUnauthorized
		resp.Message = "authentication required"
	case "model_invocation":
		status = http.StatusUnprocessableEntity
		resp.Message = "the model could not score this application"
	case "storage":
		status = http.StatusServiceUnavailable
		resp.Message = "the prediction history is unavailable"
	default:
		status = http.StatusInternalServerError
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
