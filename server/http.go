package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
	"github.com/fvisticot/nfc-reader-bridge/nfc/remotenfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// method restricts a handler to one HTTP method.
func method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.TagInputResponse{
		Success:   false,
		Error:     message,
		ErrorCode: code,
	})
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   buildinfo.Version,
		Reader:    s.config.ReaderName,
		Session:   s.controller.Snapshot().State.String(),
	})
}

// handleSession reports the controller state (GET /api/v1/session).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         snap.State.String(),
		"instruction":   snap.Instruction,
		"autoStop":      snap.AutoStop,
		"hasResponder":  snap.HasResponder,
		"hasSubscriber": snap.HasSubscriber,
	})
}

// handleRead starts a one-shot read and holds the request open until it is
// answered (POST /api/v1/read). A client that hangs up gives up its slot
// without stopping the session.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReadRequestPayload
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "Failed to parse request body: "+err.Error())
		return
	}

	responder := session.NewChannel("http-read", 1, s.logger)
	if err := s.controller.Read(req.Instruction, responder); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrCodeInternalError, err.Error())
		return
	}

	select {
	case e := <-responder.Events():
		writeJSON(w, http.StatusOK, protocol.ReadResponse{Event: e})
	case <-r.Context().Done():
		s.controller.Release(responder)
		s.logger.Printf("HTTP read abandoned by %s", r.RemoteAddr)
	}
}

// handleStop stops the session (POST /api/v1/stop).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controller.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handlePlatform returns the platform identifier (GET /api/v1/platform).
func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platform": s.config.Platform})
}

// handleTagInput presents a tag to the remote reader (POST /api/v1/tag).
func (s *Server) handleTagInput(w http.ResponseWriter, r *http.Request) {
	if s.config.Remote == nil {
		writeError(w, http.StatusNotFound, protocol.ErrCodeReaderNotRemote, "the active reader does not accept remote tags")
		return
	}

	var req protocol.TagInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "Failed to parse request body: "+err.Error())
		return
	}

	det, err := remotenfc.DetectionFromRequest(req)
	if err != nil {
		code := protocol.ErrCodeInvalidNDEF
		if strings.HasPrefix(err.Error(), protocol.ErrCodeInvalidUID) {
			code = protocol.ErrCodeInvalidUID
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}

	switch err := s.config.Remote.Present(det); {
	case errors.Is(err, remotenfc.ErrNoSession):
		writeError(w, http.StatusConflict, protocol.ErrCodeInvalidRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, protocol.ErrCodeInternalError, err.Error())
	default:
		s.logger.Printf("[http-api] Tag presented: UID=%s", det.UID)
		writeJSON(w, http.StatusOK, protocol.TagInputResponse{
			Success: true,
			Message: "Tag presented to reader",
			UID:     det.UID,
		})
	}
}

// decodeOptionalBody decodes a JSON body, treating an empty body as zero.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
