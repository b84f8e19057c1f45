package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/authpw"
	"caseflow/api/internal/metrics"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		s.handleLogout(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "brokerName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "brokerName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "brokerId": session.BrokerID, "brokerName": session.BrokerName})
		return
	}

	// Everything below requires a session.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/feed" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.Feed(r.Context(), session, limit)
		s.respond(w, entries, err)
		return
	}

	if r.URL.Path == "/api/search" && r.Method == http.MethodGet {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		resp, err := s.service.SearchCases(r.Context(), session, q.Get("q"), q.Get("type"), limit, offset)
		s.respond(w, resp, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "cases" {
		s.handleCases(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleCases routes everything under /api/cases. parts holds the path
// segments after "cases".
func (s *HTTPServer) handleCases(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListCases(r.Context(), session)
		s.respond(w, items, err)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			ClientName string `json:"clientName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateCase(r.Context(), session, body.ClientName)
		s.respondStatus(w, http.StatusCreated, view, err)

	case len(parts) == 1 && r.Method == http.MethodGet:
		view, err := s.service.GetCaseDetail(r.Context(), session, parts[0])
		s.respond(w, view, err)

	case len(parts) >= 2 && parts[1] == "collaborators":
		s.handleCollaborators(w, r, session, parts[0], parts[2:])

	case len(parts) >= 2 && parts[1] == "milestones":
		s.handleMilestones(w, r, session, parts[0], parts[2:])

	case len(parts) == 2 && parts[1] == "timeline" && r.Method == http.MethodGet:
		entries, err := s.service.ListCaseTimeline(r.Context(), session, parts[0])
		s.respond(w, entries, err)

	case len(parts) == 2 && parts[1] == "comments" && r.Method == http.MethodPost:
		var body PostCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.PostComment(r.Context(), session, parts[0], body)
		s.respondStatus(w, http.StatusCreated, view, err)

	case len(parts) >= 2 && parts[1] == "documents":
		s.handleDocuments(w, r, session, parts[0], parts[2:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, session Session, caseID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListCaseCollaborators(r.Context(), session, caseID)
		s.respond(w, items, err)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body InviteCollaboratorInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.InviteCollaborator(r.Context(), session, caseID, body)
		s.respondStatus(w, http.StatusCreated, view, err)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body ChangeRoleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.ChangeCollaboratorRole(r.Context(), session, caseID, parts[0], body)
		s.respond(w, view, err)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		err := s.service.RemoveCollaborator(r.Context(), session, caseID, parts[0])
		s.respond(w, map[string]any{"removed": err == nil}, err)

	case len(parts) == 2 && parts[1] == "permissions" && r.Method == http.MethodPut:
		var body PermissionsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.SetCollaboratorPermissions(r.Context(), session, caseID, parts[0], body)
		s.respond(w, view, err)

	case len(parts) == 2 && parts[1] == "accept" && r.Method == http.MethodPost:
		view, err := s.service.AcceptInvite(r.Context(), session, caseID, parts[0])
		s.respond(w, view, err)

	case len(parts) == 2 && parts[1] == "decline" && r.Method == http.MethodPost:
		err := s.service.DeclineInvite(r.Context(), session, caseID, parts[0])
		s.respond(w, map[string]any{"declined": err == nil}, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMilestones(w http.ResponseWriter, r *http.Request, session Session, caseID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListCaseMilestones(r.Context(), session, caseID)
		s.respond(w, items, err)

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body CreateMilestoneInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateMilestone(r.Context(), session, caseID, body)
		s.respondStatus(w, http.StatusCreated, view, err)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body UpdateMilestoneInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UpdateMilestoneFields(r.Context(), session, caseID, parts[0], body)
		s.respond(w, view, err)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteMilestone(r.Context(), session, caseID, parts[0])
		s.respond(w, map[string]any{"deleted": err == nil}, err)

	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		var body SetStatusInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.SetMilestoneStatus(r.Context(), session, caseID, parts[0], body)
		s.respond(w, view, err)

	case len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodPost:
		var body ReviewInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.ReviewMilestone(r.Context(), session, caseID, parts[0], body)
		s.respond(w, view, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, caseID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListCaseDocumentFiles(r.Context(), session, caseID)
		s.respond(w, items, err)

	case len(parts) == 0 && r.Method == http.MethodPost:
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "A file field is required", nil)
			return
		}
		defer file.Close()
		view, err := s.service.UploadCaseDocument(r.Context(), session, caseID,
			header.Filename, header.Header.Get("Content-Type"), header.Size, file)
		s.respondStatus(w, http.StatusCreated, view, err)

	case len(parts) == 2 && parts[1] == "verify" && r.Method == http.MethodPost:
		view, err := s.service.VerifyCaseDocument(r.Context(), session, caseID, parts[0])
		s.respond(w, view, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.FullName)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "CONFLICT", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "refreshToken is required", nil)
		return
	}

	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)

	session := Session{}
	if token := bearerToken(r); token != "" {
		if resolved, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = resolved
		}
	}

	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"brokerId":     session.BrokerID,
		"brokerName":   session.BrokerName,
		"expiresAt":    session.ExpiresAt,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respond writes either the error (mapped to the taxonomy) or the payload.
func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	s.respondStatus(w, http.StatusOK, payload, err)
}

func (s *HTTPServer) respondStatus(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		errStatus, code, message, details := mapError(err)
		if errStatus >= http.StatusInternalServerError {
			s.logger.Error("request failed", zap.Error(err))
		}
		writeError(w, errStatus, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		metrics.RecordHTTPRequestDuration(r.Method, routeLabel(r.URL.Path), strconv.Itoa(writer.status), duration)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

// routeLabel collapses resource ids so the metrics cardinality stays flat.
func routeLabel(path string) string {
	parts := splitPath(path)
	for i, part := range parts {
		if strings.ContainsRune(part, '_') {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
