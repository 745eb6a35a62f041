package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
	"github.com/hupe1980/speakmesh/stream"
)

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
	TurnID   string `json:"turn_id"`
	Speak    bool   `json:"speak"`
}

func (s *Server) handleChat(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	s.submit(c, core.TurnRequest{
		ThreadID: body.ThreadID,
		TurnID:   body.TurnID,
		Text:     body.Message,
		Speak:    body.Speak,
	})
}

func (s *Server) handleChatAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxAudio+1<<20)

	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: "audio upload too large"})
			return
		}
		s.badRequest(c, "missing audio file")
		return
	}
	if fh.Size > s.maxAudio {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: "audio upload too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.badRequest(c, "unreadable audio file")
		return
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		s.badRequest(c, "unreadable audio file")
		return
	}

	format := strings.TrimSpace(c.PostForm("format"))
	if format == "" {
		format = audioFormat(fh.Filename)
	}
	speak, _ := strconv.ParseBool(c.PostForm("speak"))

	s.submit(c, core.TurnRequest{
		ThreadID:    c.PostForm("thread_id"),
		TurnID:      c.PostForm("turn_id"),
		Audio:       audio,
		AudioFormat: format,
		Speak:       speak,
	})
}

// audioFormat guesses the container from the uploaded file name.
func audioFormat(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 && i < len(filename)-1 {
		return strings.ToLower(filename[i+1:])
	}
	return "webm"
}

// submit hands req to the runner and streams the resulting events. Errors
// raised before the turn exists are answered as JSON; once the stream has
// started every failure travels as an event.
func (s *Server) submit(c *gin.Context, req core.TurnRequest) {
	if err := req.Validate(); err != nil {
		s.abortWithError(c, err)
		return
	}
	sub, err := s.runner.Submit(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.streamEvents(c, sub)
}

func (s *Server) streamEvents(c *gin.Context, sub *core.Submission) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	logger := logging.FromContextOr(c.Request.Context(), s.logger)
	enc := stream.NewEncoder(c.Writer)
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				logger.Debug("Client stopped reading", "thread_id", sub.Turn.ThreadID, "turn_id", sub.Turn.TurnID, "error", err.Error())
				return
			}
			if ev.IsTerminal() {
				return
			}
		case <-ticker.C:
			if err := enc.Comment("ping"); err != nil {
				return
			}
		case <-ctx.Done():
			logger.Debug("Client disconnected", "thread_id", sub.Turn.ThreadID, "turn_id", sub.Turn.TurnID)
			return
		}
	}
}
