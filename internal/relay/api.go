package relay

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/observe"
	"github.com/MrWong99/sloane/pkg/types"
)

// maxChatBody caps the size of a chat request body.
const maxChatBody = 64 << 10

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	IsWhisper bool   `json:"isWhisper,omitempty"`

	// Level is the difficulty. It is kept raw because any value that is not
	// an integer from 1 to 4 (missing, fractional, a string) means level 1.
	Level json.RawMessage `json:"level,omitempty"`
}

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
	Model    string `json:"model,omitempty"`
}

// ErrorBody is the failure body of every API endpoint.
type ErrorBody struct {
	// Error is the user-facing message.
	Error string `json:"error"`

	// Details is the underlying provider or decoder message.
	Details string `json:"details,omitempty"`

	// Kind is the dispatch failure class name, e.g. "RateLimited".
	Kind string `json:"kind,omitempty"`

	// Model is the model of the failed attempt, if any.
	Model string `json:"model,omitempty"`

	// RetryAfter is the advised wait in whole seconds.
	RetryAfter int `json:"retryAfter,omitempty"`

	// Suggestion is a hint for fixing the failure.
	Suggestion string `json:"suggestion,omitempty"`
}

// StatusFor maps a dispatch failure class to its HTTP status.
func StatusFor(k dispatch.Kind) int {
	switch k {
	case dispatch.KindEmptyInput:
		return http.StatusBadRequest
	case dispatch.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// bodyFor renders e as an [ErrorBody].
func bodyFor(e *dispatch.Error) ErrorBody {
	return ErrorBody{
		Error:      e.UserMessage(),
		Details:    e.Message,
		Kind:       e.Kind.String(),
		Model:      e.Model,
		RetryAfter: e.RetryAfterSeconds(),
		Suggestion: e.Suggestion(),
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{
			Error:   "Invalid request body.",
			Details: err.Error(),
		})
		return
	}

	level := requestLevel(req.Level)
	mode := types.ModeNormal
	if req.IsWhisper {
		mode = types.ModeWhisper
	}
	u := types.Utterance{
		Text:        strings.TrimSpace(req.Message),
		Mode:        mode,
		Level:       level,
		CommittedAt: time.Now(),
	}

	c := s.dispatcher.Dispatch(r.Context(), u)
	if c.Err != nil {
		observe.Logger(r.Context()).Info("chat failed",
			"mode", mode.String(), "kind", c.Err.Kind.String(), "model", c.Err.Model)
		writeError(w, c.Err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: c.Text, Model: c.Model})
}

// requestLevel reads the level of a chat request.
func requestLevel(raw json.RawMessage) types.Level {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n != math.Trunc(n) {
		return types.MinLevel
	}
	if n < float64(types.MinLevel) || n > float64(types.MaxLevel) {
		return types.MinLevel
	}
	return types.Level(n)
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.All())
}

func (s *Server) handleVoice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.voice())
}

// writeError answers with the status and body for e. Rate-limit answers also
// carry a Retry-After header.
func writeError(w http.ResponseWriter, e *dispatch.Error) {
	status := StatusFor(e.Kind)
	if status == http.StatusTooManyRequests {
		if secs := e.RetryAfterSeconds(); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	writeJSON(w, status, bodyFor(e))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
