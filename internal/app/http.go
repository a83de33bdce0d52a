package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Auth headers. Every request carries the embedding app's id; everything
// past user registration also carries the acting user's internal id.
const (
	HeaderAppID  = "Pinboard-App-ID"
	HeaderUserID = "Pinboard-User-ID"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/v1/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/v1/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "v1" {
		writeCode(w, http.StatusNotFound, "NOT_FOUND")
		return
	}

	appID := strings.TrimSpace(r.Header.Get(HeaderAppID))
	if appID == "" {
		writeCode(w, http.StatusUnauthorized, "MISSING_APP_ID")
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/v1/config" {
		writeEnvelope(w, http.StatusOK, "config", s.service.Overlay())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v1/users" {
		s.handleUpsertUser(w, r, appID)
		return
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
	if err != nil || userID <= 0 {
		writeCode(w, http.StatusUnauthorized, "MISSING_USER_ID")
		return
	}
	identity := Identity{AppID: appID, UserID: userID}

	switch {
	case len(parts) == 2 && parts[1] == "pins" && r.Method == http.MethodGet:
		s.handleListPins(w, r, identity)
	case len(parts) == 2 && parts[1] == "pins" && r.Method == http.MethodPost:
		s.handleCreatePin(w, r, identity)
	case len(parts) == 3 && parts[1] == "pins" && r.Method == http.MethodDelete:
		s.handleDeletePin(w, r, identity, parts[2])
	case len(parts) == 4 && parts[1] == "pins" && parts[3] == "complete" && r.Method == http.MethodPost:
		s.handleCompletePin(w, r, identity, parts[2])
	case len(parts) == 4 && parts[1] == "pins" && parts[3] == "comments" && r.Method == http.MethodGet:
		s.handleListComments(w, r, identity, parts[2])
	case len(parts) == 4 && parts[1] == "pins" && parts[3] == "comments" && r.Method == http.MethodPost:
		s.handleCreateComment(w, r, identity, parts[2])
	case len(parts) == 3 && parts[1] == "comments" && r.Method == http.MethodPatch:
		s.handleUpdateComment(w, r, identity, parts[2])
	case len(parts) == 3 && parts[1] == "comments" && r.Method == http.MethodDelete:
		s.handleDeleteComment(w, r, identity, parts[2])
	default:
		writeCode(w, http.StatusNotFound, "NOT_FOUND")
	}
}

func (s *HTTPServer) handleUpsertUser(w http.ResponseWriter, r *http.Request, appID string) {
	var body UpsertUserInput
	if err := decodeBody(r, &body); err != nil {
		writeCode(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}

	user, err := s.service.UpsertUser(r.Context(), appID, body)
	if err != nil {
		writeServiceError(w, "user", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "user", user)
}

func (s *HTTPServer) handleListPins(w http.ResponseWriter, r *http.Request, identity Identity) {
	q := r.URL.Query()
	pins, err := s.service.ListPins(r.Context(),
		identity,
		strings.TrimSpace(q.Get("path")),
		q.Get("mine") == "1",
		strings.TrimSpace(q.Get("q")))
	if err != nil {
		writeServiceError(w, "nodes", err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(pins)))
	writeEnvelope(w, http.StatusOK, "nodes", pins)
}

func (s *HTTPServer) handleCreatePin(w http.ResponseWriter, r *http.Request, identity Identity) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeCode(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}

	in := CreatePinInput{
		PagePath: r.FormValue("pagePath"),
		Path:     r.FormValue("path"),
		Text:     r.FormValue("text"),
		Files:    formFiles(r),
	}

	floatFields := map[string]*float64{
		"w": &in.W, "normX": &in.NormX, "normY": &in.NormY,
		"relX": &in.RelX, "relY": &in.RelY,
	}
	invalid := map[string]string{}
	for name, target := range floatFields {
		raw := strings.TrimSpace(r.FormValue(name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			invalid[name] = "INVALID"
			continue
		}
		*target = parsed
	}
	if len(invalid) > 0 {
		writeErrorEnvelope(w, http.StatusUnprocessableEntity, "pin", invalid)
		return
	}

	pin, err := s.service.CreatePin(r.Context(), identity, in)
	if err != nil {
		writeServiceError(w, "pin", err)
		return
	}
	writeEnvelope(w, http.StatusCreated, "pin", pin)
}

func (s *HTTPServer) handleDeletePin(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	pinID, ok := parseID(w, "pin", rawID)
	if !ok {
		return
	}
	if err := s.service.DeletePin(r.Context(), identity, pinID); err != nil {
		writeServiceError(w, "pin", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "pin", nil)
}

func (s *HTTPServer) handleCompletePin(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	pinID, ok := parseID(w, "pin", rawID)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 8))
	if err != nil {
		writeCode(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}
	done := strings.TrimSpace(string(raw)) == "1"

	if err := s.service.CompletePin(r.Context(), identity, pinID, done); err != nil {
		writeServiceError(w, "pin", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "pin", nil)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	pinID, ok := parseID(w, "nodes", rawID)
	if !ok {
		return
	}

	comments, err := s.service.ListComments(r.Context(), identity, pinID)
	if err != nil {
		writeServiceError(w, "nodes", err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(comments)))
	writeEnvelope(w, http.StatusOK, "nodes", comments)
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	pinID, ok := parseID(w, "comment", rawID)
	if !ok {
		return
	}

	in := CreateCommentInput{}
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeCode(w, http.StatusBadRequest, "INVALID_BODY")
			return
		}
		in.Text = r.FormValue("text")
		in.Files = formFiles(r)
	} else {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeCode(w, http.StatusBadRequest, "INVALID_BODY")
			return
		}
		in.Text = body.Text
	}

	comment, err := s.service.CreateComment(r.Context(), identity, pinID, in)
	if err != nil {
		writeServiceError(w, "comment", err)
		return
	}
	writeEnvelope(w, http.StatusCreated, "comment", comment)
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	commentID, ok := parseID(w, "comment", rawID)
	if !ok {
		return
	}

	var body UpdateCommentInput
	if err := decodeBody(r, &body); err != nil {
		writeCode(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}

	if err := s.service.UpdateComment(r.Context(), identity, commentID, body); err != nil {
		writeServiceError(w, "comment", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "comment", nil)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request, identity Identity, rawID string) {
	commentID, ok := parseID(w, "comment", rawID)
	if !ok {
		return
	}
	if err := s.service.DeleteComment(r.Context(), identity, commentID); err != nil {
		writeServiceError(w, "comment", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "comment", nil)
}

// formFiles collects the attachments[i] parts of a multipart form, in
// index order.
func formFiles(r *http.Request) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var files []*multipart.FileHeader
	for i := 0; ; i++ {
		headers, ok := r.MultipartForm.File[fmt.Sprintf("attachments[%d]", i)]
		if !ok {
			break
		}
		files = append(files, headers...)
	}
	return files
}

func parseID(w http.ResponseWriter, resource, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeErrorEnvelope(w, http.StatusNotFound, resource, map[string]string{"code": "NOT_FOUND"})
		return 0, false
	}
	return id, true
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

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
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
	header.Set("Access-Control-Allow-Headers",
		"Content-Type, X-Request-ID, "+HeaderAppID+", "+HeaderUserID)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Total-Count, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeEnvelope emits the success shape every endpoint shares: the named
// resource plus an explicit null error.
func writeEnvelope(w http.ResponseWriter, status int, resource string, value any) {
	writeJSON(w, status, map[string]any{resource: value, "error": nil})
}

// writeErrorEnvelope emits the failure shape: a null resource and either a
// flat {"code": ...} object or a per-field code map.
func writeErrorEnvelope(w http.ResponseWriter, status int, resource string, errPayload any) {
	writeJSON(w, status, map[string]any{resource: nil, "error": errPayload})
}

func writeCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code}})
}

func writeServiceError(w http.ResponseWriter, resource string, err error) {
	status, payload := mapError(err)
	writeErrorEnvelope(w, status, resource, payload)
}

func mapError(err error) (int, any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if fields, ok := domainErr.Details.(map[string]string); ok {
			return domainErr.Status, fields
		}
		return domainErr.Status, map[string]string{"code": domainErr.Code}
	}
	log.Error().Err(err).Msg("request failed")
	return http.StatusInternalServerError, map[string]string{"code": "SERVER_ERROR"}
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
