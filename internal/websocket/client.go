package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"squadlink/internal/transport/httpdto"
	squadlink_errors "squadlink/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// CommandHandler executes one decoded viewer command.
type CommandHandler interface {
	Handle(ctx context.Context, cmd httpdto.Command) error
}

// Client is one websocket connection of a viewer. It is the engine's frame
// sink: Send never blocks and drops frames once the connection is gone.
type Client struct {
	ID       string
	ViewerID string

	conn   *websocket.Conn
	send   chan []byte
	logger *Logger

	mu     sync.RWMutex // guards send against close
	closed bool

	lastActivity atomic.Int64
	dropped      atomic.Int64
}

func NewClient(conn *websocket.Conn, viewerID string, logger *Logger) *Client {
	c := &Client{
		ID:       uuid.New().String(),
		ViewerID: viewerID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
	}
	c.touch()
	return c
}

// Send encodes frame and queues it for the write pump.
func (c *Client) Send(frame httpdto.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("frame encode failed", c.ViewerID, c.ID, err, zap.String("frame", frame.Type))
		return
	}
	c.SendMessage(payload)
}

// SendMessage queues a raw payload (non-blocking)
func (c *Client) SendMessage(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		if c.dropped.Add(1) == 1 {
			c.logger.Warn("send buffer full, dropping frames", c.ViewerID, c.ID)
		}
	}
}

// SendError queues an error frame for a failed command.
func (c *Client) SendError(requestID string, err error, code string) {
	c.Send(httpdto.Frame{
		Type:      httpdto.FrameError,
		RequestID: requestID,
		Error:     err.Error(),
		Code:      code,
	})
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// decodeCommand parses one inbound text message.
func decodeCommand(message []byte) (httpdto.Command, error) {
	var cmd httpdto.Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return httpdto.Command{}, fmt.Errorf("%w: malformed command: %v", squadlink_errors.ErrInvalidInput, err)
	}
	if cmd.Type == "" {
		return httpdto.Command{}, fmt.Errorf("%w: command type is required", squadlink_errors.ErrInvalidInput)
	}
	return cmd, nil
}

// readPump reads commands until the connection fails and hands each one to
// dispatch.
func (c *Client) readPump(dispatch func(cmd httpdto.Command)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.ViewerID, c.ID, err)
			}
			return
		}
		c.touch()

		cmd, err := decodeCommand(message)
		if err != nil {
			c.SendError("", err, "INVALID_INPUT")
			continue
		}
		dispatch(cmd)
	}
}

// writePump drains the send channel to the connection and pings the peer.
// heartbeat runs on every ping.
func (c *Client) writePump(ctx context.Context, heartbeat func(ctx context.Context)) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.idleFor() > pongWait*2 {
				c.logger.Info("client idle timeout", c.ViewerID, c.ID)
				return
			}
			if heartbeat != nil {
				heartbeat(ctx)
			}
		}
	}
}
