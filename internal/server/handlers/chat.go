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
)

// ChatHandler serves the OpenAI-shaped POST /v1/chat/completions (and its
// /warp/v1/chat/completions mirror).
type ChatHandler struct {
	dispatch *dispatcher.Dispatcher
	cfg      *config.Config
}

// NewChatHandler constructs a ChatHandler bound to d.
func NewChatHandler(d *dispatcher.Dispatcher, cfg *config.Config) *ChatHandler {
	return &ChatHandler{dispatch: d, cfg: cfg}
}

// Complete handles POST /v1/chat/completions: either an SSE stream of
// chat.completion.chunk frames or a single chat.completion JSON body,
// depending on the request's "stream" field.
func (h *ChatHandler) Complete(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAPIError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	fr, err := format.ParseOpenAIRequest(body)
	if err != nil {
		writeAPIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	fr.DisableWarpTools = h.cfg.Pool.DisableWarpTools
	fr.MaxHistoryMessages = h.cfg.Pool.MaxHistoryMsgs
	fr.MaxToolResults = h.cfg.Pool.MaxToolResults

	completionID := "chatcmpl-" + uuid.New().String()

	if fr.Stream {
		h.completeStreaming(c, fr, completionID)
		return
	}
	h.completeUnary(c, fr, completionID)
}

func (h *ChatHandler) completeStreaming(c *gin.Context, fr format.FoldRequest, completionID string) {
	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}
	w.SetHeaders()
	c.Writer.WriteHeader(http.StatusOK)

	streamer := format.NewOpenAIStreamer(w, completionID, fr.Model)
	_, err = h.dispatch.Dispatch(c.Request.Context(), fr, false, streamer.HandleEvent)
	if err != nil {
		// Best-effort terminal frame rather than an abrupt close.
		_ = w.WriteError("api_error", dispatchErrorMessage(err))
		_ = w.WriteDone()
	}
}

func (h *ChatHandler) completeUnary(c *gin.Context, fr format.FoldRequest, completionID string) {
	collector := format.NewOpenAICollector(completionID, fr.Model)
	_, err := h.dispatch.Dispatch(c.Request.Context(), fr, false, collector.HandleEvent)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, collector.Result())
}

func dispatchErrorMessage(err error) string {
	if errors.Is(err, dispatcher.ErrNoAccount) {
		return "no accounts available"
	}
	return err.Error()
}

func writeDispatchError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, dispatcher.ErrNoAccount) {
		status = http.StatusServiceUnavailable
	}
	writeAPIError(c, status, "api_error", dispatchErrorMessage(err))
}
