package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/dispatcher"
	"github.com/lofyer/warp-multiproxy-go/internal/format"
	"github.com/lofyer/warp-multiproxy-go/internal/server/sse"
	"github.com/lofyer/warp-multiproxy-go/internal/wire"
)

// MessagesHandler serves the Anthropic-shaped POST /v1/messages (and its
// /anthropic/v1/messages mirror).
type MessagesHandler struct {
	dispatch *dispatcher.Dispatcher
	cfg      *config.Config
}

// NewMessagesHandler constructs a MessagesHandler bound to d.
func NewMessagesHandler(d *dispatcher.Dispatcher, cfg *config.Config) *MessagesHandler {
	return &MessagesHandler{dispatch: d, cfg: cfg}
}

// Messages handles POST /v1/messages: either an SSE stream of
// message_start/content_block_*/message_delta/message_stop frames or a
// single messages response body, depending on the request's "stream" field.
func (h *MessagesHandler) Messages(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAnthropicError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	fr, err := format.ParseAnthropicRequest(body)
	if err != nil {
		writeAnthropicError(c, http.StatusBadRequest, err.Error())
		return
	}
	fr.DisableWarpTools = h.cfg.Pool.DisableWarpTools
	fr.MaxHistoryMessages = h.cfg.Pool.MaxHistoryMsgs
	fr.MaxToolResults = h.cfg.Pool.MaxToolResults

	messageID := "msg_" + uuid.New().String()
	inputTokens := approxTokens(fr.UserText, fr.History)

	if fr.Stream {
		h.messagesStreaming(c, fr, messageID, inputTokens)
		return
	}
	h.messagesUnary(c, fr, messageID, inputTokens)
}

func (h *MessagesHandler) messagesStreaming(c *gin.Context, fr format.FoldRequest, messageID string, inputTokens int) {
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeAnthropicError(c, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.SetHeaders()
	c.Writer.WriteHeader(http.StatusOK)

	streamer := format.NewAnthropicStreamer(w, messageID, fr.Model, inputTokens)
	if err := streamer.Start(); err != nil {
		return
	}

	_, err = h.dispatch.Dispatch(c.Request.Context(), fr, false, streamer.HandleEvent)
	if err != nil {
		// Best-effort terminal frame rather than an abrupt close.
		_ = w.WriteEvent("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": 0},
		})
		_ = w.WriteEvent("message_stop", map[string]interface{}{"type": "message_stop"})
	}
}

func (h *MessagesHandler) messagesUnary(c *gin.Context, fr format.FoldRequest, messageID string, inputTokens int) {
	collector := format.NewAnthropicCollector(messageID, fr.Model, inputTokens)
	_, err := h.dispatch.Dispatch(c.Request.Context(), fr, false, collector.HandleEvent)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatcher.ErrNoAccount) {
			status = http.StatusServiceUnavailable
		}
		writeAnthropicError(c, status, err.Error())
		return
	}
	c.JSON(http.StatusOK, collector.Result())
}

func writeAnthropicError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": message}})
}

// approxTokens estimates input token count the same way output tokens are
// approximated when upstream omits real usage: len(text)/4.
func approxTokens(userText string, history []wire.Message) int {
	total := len(userText)
	for _, m := range history {
		total += len(m.Content)
	}
	return total / 4
}
