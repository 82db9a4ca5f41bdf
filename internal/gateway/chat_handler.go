// Package gateway serves the notes assistant over HTTP: a server-sent events
// chat endpoint, the notes REST resources, health and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/auth"
	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// MessageStreamingFailed is the error frame sent when a stream breaks after
// the response has started.
const MessageStreamingFailed = "Streaming failed."

const maxBodyBytes = 1 << 20

const chatRequestSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string", "minLength": 1},
    "previous_response_id": {"type": ["string", "null"]}
  }
}`

var compiledChatSchema = jsonschema.MustCompileString("chat_request.json", chatRequestSchema)

// ChatRunner starts a chat run and returns its event stream.
type ChatRunner interface {
	Chat(ctx context.Context, req agent.ChatRequest) (<-chan models.ChatEvent, error)
}

// ChatRequest is the body of POST {prefix}/chat/stream.
type ChatRequest struct {
	Message            string  `json:"message"`
	PreviousResponseID *string `json:"previous_response_id"`
}

// ChatHandler streams chat events as SSE frames.
type ChatHandler struct {
	chat   ChatRunner
	logger *observability.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chat ChatRunner, logger *observability.Logger) *ChatHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ChatHandler{chat: chat, logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	req, status, err := decodeChatRequest(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chatReq := agent.ChatRequest{UserID: userID, Message: req.Message}
	if req.PreviousResponseID != nil {
		chatReq.PreviousResponseID = strings.TrimSpace(*req.PreviousResponseID)
	}
	events, err := h.chat.Chat(ctx, chatReq)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyMessage) || errors.Is(err, agent.ErrMissingUser) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error(ctx, "chat start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat unavailable")
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.stream(ctx, cancel, w, flusher, events)
}

// stream forwards events until the channel closes. A panic or a stream that
// ends without a terminal event produces a final error frame.
func (h *ChatHandler) stream(ctx context.Context, cancel context.CancelFunc, w io.Writer, flusher http.Flusher, events <-chan models.ChatEvent) {
	terminal := false
	writable := true
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error(ctx, "chat stream panicked", "panic", fmt.Sprint(rec))
			cancel()
			if writable && !terminal {
				_ = WriteEvent(w, models.ChatEvent{Type: models.ChatEventError, Message: MessageStreamingFailed})
				flusher.Flush()
			}
			for range events {
			}
		}
	}()

	for ev := range events {
		if !writable {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error(ctx, "chat event encoding failed", "type", ev.Type, "error", err)
			cancel()
			_ = WriteEvent(w, models.ChatEvent{Type: models.ChatEventError, Message: MessageStreamingFailed})
			flusher.Flush()
			terminal, writable = true, false
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			h.logger.Warn(ctx, "client write failed", "error", err)
			writable = false
			cancel()
			continue
		}
		flusher.Flush()
		if ev.Type.IsTerminal() {
			terminal = true
		}
	}

	if writable && !terminal && ctx.Err() == nil {
		h.logger.Error(ctx, "chat stream ended without a terminal event")
		_ = WriteEvent(w, models.ChatEvent{Type: models.ChatEventError, Message: MessageStreamingFailed})
		flusher.Flush()
	}
}

// WriteEvent renders one SSE frame: "event: <type>\ndata: <json>\n\n".
func WriteEvent(w io.Writer, ev models.ChatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, int, error) {
	var req ChatRequest
	if status, err := decodeJSON(w, r, compiledChatSchema, &req); err != nil {
		return nil, status, err
	}
	return &req, 0, nil
}

// decodeJSON reads a bounded body, validates it against schema and decodes
// it into dst. The returned status is meaningful only with an error.
func decodeJSON(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) (int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, fmt.Errorf("read body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return http.StatusUnprocessableEntity, fmt.Errorf("invalid request: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err)
	}
	return 0, nil
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
