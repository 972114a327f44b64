package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Question string `json:"question" binding:"required"`
}

type PromptHandler struct {
	session Session
	stream  bool
	logger  *slog.Logger
}

func NewPromptHandler(s Session, stream bool, logger *slog.Logger) *PromptHandler {
	return &PromptHandler{
		session: s,
		stream:  stream,
		logger:  logger,
	}
}

func (h *PromptHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/prompt", h.Prompt)
	r.GET("/memory", h.History)
	r.DELETE("/memory", h.Reset)
}

// Prompt answers the question in the body, streamed or whole depending on configuration.
func (h *PromptHandler) Prompt(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.stream {
		h.streamAnswer(c, req.Question)
		return
	}

	answer, err := h.session.Invoke(c.Request.Context(), req.Question)
	if err != nil {
		h.logger.Error("prompt failed", "request_id", GetRequestID(c.Request.Context()), "error", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(answer))
}

func (h *PromptHandler) streamAnswer(c *gin.Context, question string) {
	ctx := c.Request.Context()
	rid := GetRequestID(ctx)

	s, err := h.session.Stream(ctx, question)
	if err != nil {
		h.logger.Error("failed to create stream", "request_id", rid, "error", err)
		c.String(http.StatusInternalServerError, "Error creating stream: %v", err)
		return
	}
	defer s.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for s.Next(ctx) {
		if _, err := c.Writer.WriteString(s.Chunk().Content); err != nil {
			h.logger.Warn("client write failed", "request_id", rid, "error", err)
			return
		}
		c.Writer.Flush()
	}

	if err := s.Err(); err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client went away mid-stream", "request_id", rid)
			return
		}
		h.logger.Error("stream failed", "request_id", rid, "error", err)
		fmt.Fprintf(c.Writer, "Stream error: %v", err)
		c.Writer.Flush()
	}
}

// History returns the caller's remembered conversation.
func (h *PromptHandler) History(c *gin.Context) {
	transcript, err := h.session.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, transcript)
}

// Reset forgets the caller's conversation.
func (h *PromptHandler) Reset(c *gin.Context) {
	if err := h.session.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
