package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/strealome/internal/adapters/auth"
	"github.com/dkeye/strealome/internal/adapters/signal"
	"github.com/dkeye/strealome/internal/adapters/userstore"
	"github.com/dkeye/strealome/internal/app"
	"github.com/dkeye/strealome/internal/config"
	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	ctx context.Context
	cfg *config.Config
	svc *Services
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

type roomRequest struct {
	Room domain.RoomLink `json:"room" binding:"required"`
}

type transferRequest struct {
	Room     domain.RoomLink `json:"room" binding:"required"`
	TargetID domain.UserID   `json:"target_id"`
}

type renameRequest struct {
	Room domain.RoomLink `json:"room" binding:"required"`
	Name string          `json:"name" binding:"required"`
}

type messageRequest struct {
	Room    domain.RoomLink `json:"room" binding:"required"`
	Content string          `json:"content" binding:"required"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      domain.User `json:"user"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func fail(c *gin.Context, err error) {
	status, msg := describe(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": err.Error()})
}

// describe maps an error to a status and a message safe to show clients.
// Registry and lobby errors keep their message; everything else,
// partial deliveries included, is reported as a plain internal error.
func describe(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrRoomNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrRoomReleased):
		return http.StatusGone, err.Error()
	case errors.Is(err, core.ErrUserNotInRoom), errors.Is(err, app.ErrNotHost):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, core.ErrUserAlreadyHosting), errors.Is(err, core.ErrUserAlreadyInRoom):
		return http.StatusConflict, err.Error()
	case errors.Is(err, app.ErrEmptyName), errors.Is(err, userstore.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// knownLink rejects links that no room could have before the registry is
// consulted.
func (h *handlers) knownLink(c *gin.Context, link domain.RoomLink) bool {
	length := h.cfg.ShareLinkLength
	if length <= 0 {
		length = app.DefaultShareLinkLength
	}
	if !app.IsShareLink(string(link), length) {
		fail(c, core.ErrRoomNotFound)
		return false
	}
	return true
}

func (h *handlers) health(c *gin.Context) {
	ok(c, gin.H{"rooms": h.svc.Lobby.Rooms.Len()})
}

func (h *handlers) register(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.Accounts.Create(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	h.issue(c, u, auth.DomainHTTP, true)
}

func (h *handlers) me(c *gin.Context) {
	u, err := h.svc.Accounts.Lookup(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, u)
}

func (h *handlers) issue(c *gin.Context, u domain.User, dom auth.Domain, setCookie bool) {
	token, err := h.svc.Auth.Issue(u.ID, dom)
	if err != nil {
		fail(c, err)
		return
	}
	ttl := int64(h.svc.Auth.TTL().Seconds())
	if setCookie {
		c.SetCookie(tokenCookie, token, int(ttl), "/", "", false, true)
	}
	ok(c, tokenResponse{Token: token, ExpiresIn: ttl, User: u})
}

func (h *handlers) createRoom(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.svc.Lobby.CreateRoom(c.Request.Context(), currentUser(c), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, s)
}

func (h *handlers) roomDetail(c *gin.Context) {
	link := domain.RoomLink(c.Query("room"))
	if link == "" {
		badRequest(c, errors.New("room is required"))
		return
	}
	if !h.knownLink(c, link) {
		return
	}
	s, err := h.svc.Lobby.GetRoom(c.Request.Context(), link, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, s)
}

func (h *handlers) myRooms(c *gin.Context) {
	ok(c, h.svc.Lobby.ListRelatedRooms(c.Request.Context(), currentUser(c)))
}

func (h *handlers) transferHost(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.knownLink(c, req.Room) {
		return
	}
	if err := h.svc.Lobby.ChangeHost(c.Request.Context(), req.Room, currentUser(c), req.TargetID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"host_id": req.TargetID})
}

func (h *handlers) renameRoom(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.knownLink(c, req.Room) {
		return
	}
	if err := h.svc.Lobby.RenameRoom(c.Request.Context(), req.Room, currentUser(c), req.Name); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"name": domain.TrimRoomName(req.Name)})
}

func (h *handlers) roomUsers(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.knownLink(c, req.Room) {
		return
	}
	users, err := h.svc.Lobby.ListMembers(c.Request.Context(), req.Room, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, users)
}

func (h *handlers) chatMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.knownLink(c, req.Room) {
		return
	}
	if err := h.svc.Lobby.SendMessage(c.Request.Context(), req.Room, currentUser(c), req.Content); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *handlers) chatGateway(c *gin.Context) {
	u, err := h.svc.Accounts.Lookup(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	h.issue(c, u, auth.DomainWSChat, false)
}

func (h *handlers) chatSocket(c *gin.Context) {
	link := domain.RoomLink(c.Param("room"))
	uid := currentUser(c)
	if !h.knownLink(c, link) {
		return
	}
	if _, err := h.svc.Lobby.Rooms.Room(link); err != nil {
		fail(c, err)
		return
	}

	conn, err := signal.Upgrade(c.Writer, c.Request, h.cfg.ReadLimit, h.cfg.WriteTimeout)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	defer conn.Close()
	if err := h.svc.Pump.Serve(h.ctx, conn, link, uid); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("link", string(link)).Int64("user", int64(uid)).Msg("chat session ended with error")
	}
}
