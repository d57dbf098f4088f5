package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quorumlab/quorum/internal/app"
	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
	"github.com/quorumlab/quorum/internal/store"
)

type Handler struct {
	Orch *app.Orchestrator
}

// identity pulls the verified caller identity off the request. The
// fronting identity provider fills these; we trust them as-is.
func identity(c *gin.Context) (domain.UserID, string, domain.Role) {
	userID := domain.UserID(c.GetString("client_token"))
	name := c.GetHeader("X-User-Name")
	if name == "" {
		name = "guest"
	}
	role := domain.Role(c.GetHeader("X-User-Role"))
	if role == "" {
		role = domain.RoleMember
	}
	return userID, name, role
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, core.ErrTopicNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSessionClosed),
		errors.Is(err, store.ErrTopicClosed),
		errors.Is(err, core.ErrTopicClosed),
		errors.Is(err, domain.ErrBadTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrUnknownChoice),
		errors.Is(err, domain.ErrBadWeight),
		errors.Is(err, domain.ErrTitleEmpty):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		TeamID      string `json:"teamId" binding:"required"`
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid payload"})
		return
	}
	sess, err := h.Orch.CreateSession(c.Request.Context(), domain.TeamID(req.TeamID), req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.Orch.Snapshot(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) CloseSession(c *gin.Context) {
	sess, err := h.Orch.CloseSession(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) CreateTopic(c *gin.Context) {
	var req struct {
		SessionID   string `json:"sessionId" binding:"required"`
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid payload"})
		return
	}
	topic, err := h.Orch.CreateTopic(c.Request.Context(), domain.SessionID(req.SessionID), req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"topic": topic})
}

func (h *Handler) CloseTopic(c *gin.Context) {
	sessionID := domain.SessionID(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId required"})
		return
	}
	topic, err := h.Orch.CloseTopic(c.Request.Context(), sessionID, domain.TopicID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Content   string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid payload"})
		return
	}
	userID, name, _ := identity(c)
	msg, err := h.Orch.SendMessage(c.Request.Context(), domain.SessionID(req.SessionID), userID, name, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *Handler) CastVote(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		TopicID   string `json:"topicId" binding:"required"`
		Choice    string `json:"choice" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid payload"})
		return
	}
	choice, err := domain.ParseChoice(req.Choice)
	if err != nil {
		fail(c, err)
		return
	}
	userID, _, role := identity(c)
	tally, err := h.Orch.CastVote(c.Request.Context(), domain.SessionID(req.SessionID), domain.TopicID(req.TopicID), userID, choice, role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

func (h *Handler) RetractVote(c *gin.Context) {
	sessionID := domain.SessionID(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId required"})
		return
	}
	userID, _, _ := identity(c)
	tally, err := h.Orch.RetractVote(c.Request.Context(), sessionID, domain.TopicID(c.Param("topicId")), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

func (h *Handler) Results(c *gin.Context) {
	sessionID := domain.SessionID(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId required"})
		return
	}
	tally, err := h.Orch.Results(c.Request.Context(), sessionID, domain.TopicID(c.Param("topicId")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tally": tally})
}
