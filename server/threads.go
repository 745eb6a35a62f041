package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/vocab"
)

type threadRequest struct {
	ThreadID string `json:"thread_id"`
}

type historyResponse struct {
	ThreadID string              `json:"thread_id"`
	Messages []core.HistoryEntry `json:"messages"`
}

type vocabularyResponse struct {
	ThreadID    string             `json:"thread_id"`
	Suggestions []vocab.Suggestion `json:"suggestions"`
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("thread_id")
	if err := core.ValidateID(id); err != nil {
		s.abortWithError(c, err)
		return
	}
	th, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, core.ErrThreadNotFound) {
		c.JSON(http.StatusOK, historyResponse{ThreadID: id, Messages: []core.HistoryEntry{}})
		return
	}
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{ThreadID: id, Messages: th.History()})
}

// bindThread decodes and validates a {thread_id} body.
func (s *Server) bindThread(c *gin.Context) (string, bool) {
	var body threadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return "", false
	}
	if err := core.ValidateID(body.ThreadID); err != nil {
		s.abortWithError(c, err)
		return "", false
	}
	return body.ThreadID, true
}

func (s *Server) handleSummary(c *gin.Context) {
	if s.summary == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "summary is not configured"})
		return
	}
	id, ok := s.bindThread(c)
	if !ok {
		return
	}
	sum, err := s.summary.Summarize(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleVocabulary(c *gin.Context) {
	if s.vocab == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "vocabulary suggestions are not configured"})
		return
	}
	id, ok := s.bindThread(c)
	if !ok {
		return
	}
	suggestions, err := s.vocab.ForThread(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []vocab.Suggestion{}
	}
	c.JSON(http.StatusOK, vocabularyResponse{ThreadID: id, Suggestions: suggestions})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.runner.Reset(c.Request.Context(), c.Param("thread_id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
