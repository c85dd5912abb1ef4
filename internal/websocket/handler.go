package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"squadlink/internal/engine"
	"squadlink/internal/redis"
	"squadlink/internal/services"
	"squadlink/internal/transport/httpdto"
	squadlink_errors "squadlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Limiter bounds message sends and connection attempts per viewer.
type Limiter interface {
	AllowMessage(ctx context.Context, viewerID string) (*redis.RateLimitResult, error)
	AllowWebSocket(ctx context.Context, viewerID string) (*redis.RateLimitResult, error)
}

// Presence records which viewers are connected across nodes.
type Presence interface {
	TrackConnection(ctx context.Context, viewerID string, conn redis.Connection) error
	Heartbeat(ctx context.Context, viewerID string) error
	RemoveConnection(ctx context.Context, viewerID, connectionID string) error
}

type HandlerOptions struct {
	Verifier *services.TokenVerifier
	Hub      *Hub
	Engine   engine.Deps
	// Limiter and Presence are optional.
	Limiter  Limiter
	Presence Presence
	Node     string
	Log      *zap.Logger
}

// Handler upgrades authenticated requests and runs one sync engine per
// connection.
type Handler struct {
	opts     HandlerOptions
	logger   *Logger
	upgrader websocket.Upgrader
}

func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		opts:   opts,
		logger: NewLogger(opts.Log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	claims, err := h.opts.Verifier.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	viewerID := strings.TrimSpace(claims.ViewerID)

	if h.opts.Limiter != nil {
		result, err := h.opts.Limiter.AllowWebSocket(c.Request.Context(), viewerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			return
		}
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("connection rate limit exceeded", "RATE_LIMITED"))
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade failed", viewerID, "", err)
		return
	}

	client := NewClient(conn, viewerID, h.logger)
	h.serve(client)
}

// serve runs the engine for client until the connection ends.
func (h *Handler) serve(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.opts.Hub.Register(client)
	h.track(ctx, client)
	h.logger.Info("connected", client.ViewerID, client.ID)

	deps := h.opts.Engine
	if deps.Log != nil {
		deps.Log = deps.Log.With(zap.String("client_id", client.ID))
	}
	eng := engine.New(client.ViewerID, client, deps)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	go client.writePump(ctx, h.heartbeat(client))

	client.readPump(func(cmd httpdto.Command) {
		h.dispatch(ctx, client, eng, cmd)
	})

	cancel()
	<-engineDone
	h.opts.Hub.Unregister(client)
	h.untrack(client)
	h.logger.Info("disconnected", client.ViewerID, client.ID)
}

func (h *Handler) dispatch(ctx context.Context, client *Client, eng CommandHandler, cmd httpdto.Command) {
	if cmd.Type == httpdto.CommandSend && h.opts.Limiter != nil {
		result, err := h.opts.Limiter.AllowMessage(ctx, client.ViewerID)
		if err != nil {
			h.logger.Error("rate limit check failed", client.ViewerID, client.ID, err)
			client.SendError(cmd.RequestID, err, "INTERNAL_ERROR")
			return
		}
		if !result.Allowed {
			err := fmt.Errorf("%w: retry in %s", squadlink_errors.ErrRateLimited, result.ResetIn)
			client.SendError(cmd.RequestID, err, engine.ErrorCode(err))
			return
		}
	}

	if err := eng.Handle(ctx, cmd); err != nil {
		if !squadlink_errors.IsValidation(err) {
			h.logger.Warn("command failed", client.ViewerID, client.ID,
				zap.String("command", cmd.Type), zap.Error(err))
		}
		client.SendError(cmd.RequestID, err, engine.ErrorCode(err))
	}
}

func (h *Handler) track(ctx context.Context, client *Client) {
	if h.opts.Presence == nil {
		return
	}
	err := h.opts.Presence.TrackConnection(ctx, client.ViewerID, redis.Connection{
		ConnectionID: client.ID,
		Node:         h.opts.Node,
		ConnectedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("presence track failed", client.ViewerID, client.ID, err)
	}
}

func (h *Handler) untrack(client *Client) {
	if h.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.opts.Presence.RemoveConnection(ctx, client.ViewerID, client.ID); err != nil {
		h.logger.Error("presence remove failed", client.ViewerID, client.ID, err)
	}
}

func (h *Handler) heartbeat(client *Client) func(ctx context.Context) {
	if h.opts.Presence == nil {
		return nil
	}
	return func(ctx context.Context) {
		if err := h.opts.Presence.Heartbeat(ctx, client.ViewerID); err != nil {
			h.logger.Warn("presence heartbeat failed", client.ViewerID, client.ID, zap.Error(err))
		}
	}
}

func bearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
