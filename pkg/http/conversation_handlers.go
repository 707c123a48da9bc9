package http

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/pipeline"
)

const maxSessionIDLength = 128

// ProcessResponse is the body returned by the batch endpoint
type ProcessResponse struct {
	SessionID string           `json:"session_id"`
	Events    []pipeline.Event `json:"events"`
}

// sessionID validates the session_id path segment
func sessionID(r *http.Request) (string, error) {
	id := r.PathValue("session_id")
	if id == "" || len(id) > maxSessionIDLength {
		return "", errors.NewInvalidInput("invalid session id")
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return "", errors.NewInvalidInput("invalid session id")
		}
	}
	return id, nil
}

// identity reads tenant and agent from headers, falling back to the query
func identity(r *http.Request) (tenantID, agentID string) {
	tenantID = r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	agentID = r.Header.Get("X-Agent-ID")
	if agentID == "" {
		agentID = r.URL.Query().Get("agent_id")
	}
	return tenantID, agentID
}

func acceptedAudioType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/octet-stream" || strings.HasPrefix(mediaType, "audio/")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleProcess runs one audio chunk and returns all of its events
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	if !acceptedAudioType(r.Header.Get("Content-Type")) {
		s.ErrorResponse(w, errors.NewInvalidAudio("unsupported content type "+r.Header.Get("Content-Type")))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxAudioBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
				"error": map[string]interface{}{
					"message": "audio exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
				},
			})
			return
		}
		s.ErrorResponse(w, errors.NewInvalidAudio("failed to read audio body"))
		return
	}
	if len(body) == 0 {
		s.ErrorResponse(w, errors.NewInvalidAudio("empty audio body"))
		return
	}

	tenantID, agentID := identity(r)
	events, err := s.deps.Conversations.Process(r.Context(), pipeline.Chunk{
		SessionID: id,
		TenantID:  tenantID,
		AgentID:   agentID,
		Audio:     body,
	})
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ProcessResponse{SessionID: id, Events: events})
}

// handleGetConversation returns the context snapshot and the session record
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	tenantID, _ := identity(r)
	view, err := s.deps.Conversations.Session(r.Context(), id, tenantID)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleEndConversation closes a live session
func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	tenantID, _ := identity(r)
	if err := s.deps.Conversations.EndSession(r.Context(), id, tenantID); err != nil {
		s.ErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAudio serves a synthesized clip referenced by an audio_url
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audio == nil {
		s.ErrorResponse(w, errors.NewNotFound("audio not found"))
		return
	}

	clip, ok := s.deps.Audio.Get(r.PathValue("audio_id"))
	if !ok {
		s.ErrorResponse(w, errors.NewNotFound("audio not found"))
		return
	}

	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(clip.Data)
}
