package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vinayprograms/objecthub/errors"
)

// KeyHeader carries the object key when it is not in the query string.
// LegacyKeyHeader is accepted for older clients.
const (
	KeyHeader       = "X-Object-Key"
	LegacyKeyHeader = "X-CVL-Object-Key"
)

var success = map[string]bool{"success": true}

// Handler returns the request API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /object", s.handleObject)
	mux.HandleFunc("GET /list", s.handleList)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.HandleFunc("PUT /publish", s.handlePut)
	mux.HandleFunc("POST /delete", s.handleDelete)
	mux.HandleFunc("POST /control", s.handleControl)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("OPTIONS /", s.handlePreflight)

	return s.withCORS(s.withRecovery(s.withTracing(mux)))
}

func objectKey(r *http.Request) string {
	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}
	if key := r.Header.Get(KeyHeader); key != "" {
		return key
	}
	return r.Header.Get(LegacyKeyHeader)
}

func requireKey(r *http.Request) (string, error) {
	key := objectKey(r)
	if key == "" {
		return "", errors.InvalidInput("object key is required (?key= or " + KeyHeader + ")")
	}
	return key, nil
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key, err := requireKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, wantData := r.URL.Query()["data"]; wantData {
		data, err := s.m.Data(key)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	meta, err := s.m.Metadata(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.m.List())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"clients":    s.m.Clients(),
		"read_only":  s.m.ReadOnly(),
		"persistent": s.m.Persistent(),
	})
}

// rejectReadOnly answers 403 before a mutating request body is read.
func (s *Server) rejectReadOnly(w http.ResponseWriter, operation string) bool {
	if !s.m.ReadOnly() {
		return false
	}
	s.writeError(w, errors.ReadOnly(operation))
	return true
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.rejectReadOnly(w, "publish") {
		return
	}
	key, err := requireKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var meta map[string]any
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		s.writeError(w, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "publish body must be a JSON object", errors.WithKey(key)))
		return
	}
	if err := s.m.Publish(r.Context(), key, meta); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if s.rejectReadOnly(w, "put") {
		return
	}
	key, err := requireKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "reading payload", errors.WithKey(key)))
		return
	}
	if len(data) == 0 {
		s.writeError(w, errors.InvalidInput("payload is empty", errors.WithKey(key)))
		return
	}
	if err := s.m.PutData(r.Context(), key, data); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.rejectReadOnly(w, "delete") {
		return
	}
	key, err := requireKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.m.Delete(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if s.rejectReadOnly(w, "control") {
		return
	}

	var meta any
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil && err != io.EOF {
		s.writeError(w, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "control body must be JSON"))
		return
	}
	if _, err := s.m.Control(r.Context(), meta); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.rejectReadOnly(w, "query") {
		return
	}

	responses, err := s.m.Query(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	replies := make([]json.RawMessage, len(responses))
	for i, resp := range responses {
		replies[i] = resp.Data
	}
	writeJSON(w, http.StatusOK, replies)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+KeyHeader+", "+LegacyKeyHeader)
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeReadOnly:
		return http.StatusForbidden
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var body *errors.Error
	if hubErr, ok := err.(*errors.Error); ok {
		body = hubErr
	} else {
		body = errors.Wrap(err, "request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
