package http

import (
	"context"
	"strings"

	"github.com/dkeye/strealome/internal/adapters/auth"
	"github.com/dkeye/strealome/internal/adapters/signal"
	"github.com/dkeye/strealome/internal/app"
	"github.com/dkeye/strealome/internal/config"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	tokenCookie = "token"
	userKey     = "user_id"
)

// Accounts creates users for the register endpoint.
type Accounts interface {
	app.UserLookup
	Create(ctx context.Context, name string) (domain.User, error)
}

type Services struct {
	Lobby    *app.Lobby
	Accounts Accounts
	Auth     *auth.Manager
	Pump     *signal.Pump
}

// SetupRouter wires the REST API and the chat socket. ctx bounds every
// chat session; cancel it to end them on shutdown.
func SetupRouter(ctx context.Context, cfg *config.Config, svc *Services) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{ctx: ctx, cfg: cfg, svc: svc}

	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.POST("/user/register", h.register)

	authed := api.Group("", requireToken(svc.Auth, auth.DomainHTTP, bearerOrCookie))
	authed.GET("/user/me", h.me)
	authed.POST("/room/create", h.createRoom)
	authed.GET("/room/detail", h.roomDetail)
	authed.GET("/room/my", h.myRooms)
	authed.POST("/room/transfer", h.transferHost)
	authed.POST("/room/rename", h.renameRoom)
	authed.POST("/room/users", h.roomUsers)
	authed.POST("/chat/message", h.chatMessage)
	authed.GET("/chat/gateway", h.chatGateway)

	api.GET("/ws/chat/:room", requireToken(svc.Auth, auth.DomainWSChat, queryToken), h.chatSocket)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func bearerOrCookie(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	token, _ := c.Cookie(tokenCookie)
	return token
}

func queryToken(c *gin.Context) string { return c.Query("token") }

func requireToken(m *auth.Manager, dom auth.Domain, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extract(c)
		if token == "" {
			unauthorized(c, auth.ErrInvalidToken)
			return
		}
		id, err := m.Verify(token, dom)
		if err != nil {
			unauthorized(c, err)
			return
		}
		c.Set(userKey, id)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	id, _ := c.Get(userKey)
	uid, _ := id.(domain.UserID)
	return uid
}
