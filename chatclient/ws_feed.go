package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadWait   = 75 * time.Second
	wsChanBuffer = 64
)

// WSFeed opens realtime channels on the chat server's /ws/chat route.
type WSFeed struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewWSFeed accepts an http(s) or ws(s) base URL. The token is passed as a
// query parameter because browsers cannot set headers on websocket
// handshakes and the server accepts both.
func NewWSFeed(baseURL, token string, logger *slog.Logger) *WSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger.With(slog.String("component", "ws_feed")),
	}
}

func (f *WSFeed) endpoint(scope models.ConversationScope) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + strconv.Itoa(scope.TournamentID)
	q := scopeQuery(scope)
	if f.token != "" {
		q.Set("token", f.token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *WSFeed) Open(ctx context.Context, scope models.ConversationScope) (Channel, error) {
	target, err := f.endpoint(scope)
	if err != nil {
		return nil, err
	}
	conn, resp, err := f.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w", scope.ChannelKey(), &APIError{Status: resp.StatusCode, Message: resp.Status})
		}
		return nil, fmt.Errorf("dial %s: %w", scope.ChannelKey(), err)
	}

	ch := &wsChannel{
		conn:       conn,
		room:       scope.ChannelKey(),
		logger:     f.logger.With(slog.String("channel", scope.ChannelKey())),
		changes:    make(chan models.ChangeEvent, wsChanBuffer),
		broadcasts: make(chan models.BroadcastEvent, wsChanBuffer),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

type wsChannel struct {
	conn   *websocket.Conn
	room   string
	logger *slog.Logger

	changes    chan models.ChangeEvent
	broadcasts chan models.BroadcastEvent
	done       chan struct{}
	closing    chan struct{}
	closeOnce  sync.Once

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

func (c *wsChannel) Changes() <-chan models.ChangeEvent       { return c.changes }
func (c *wsChannel) Broadcasts() <-chan models.BroadcastEvent { return c.broadcasts }
func (c *wsChannel) Done() <-chan struct{}                    { return c.done }

func (c *wsChannel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsChannel) Send(ctx context.Context, ev models.BroadcastEvent) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(models.WSEnvelope{Type: models.EnvelopeBroadcast, Payload: payload, RoomID: c.room})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *wsChannel) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsChannel) readLoop() {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				c.setErr(ErrClosed)
			default:
				c.setErr(err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if !c.dispatch(frame) {
			c.setErr(ErrClosed)
			return
		}
	}
}

// dispatch returns false once the channel is closing.
func (c *wsChannel) dispatch(frame []byte) bool {
	var env models.WSEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Debug("ignoring malformed frame", slog.Any("error", err))
		return true
	}

	switch env.Type {
	case models.EnvelopeChange:
		var ev models.ChangeEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warn("bad change payload", slog.Any("error", err))
			return true
		}
		select {
		case c.changes <- ev:
		case <-c.closing:
			return false
		}
	case models.EnvelopeBroadcast:
		var ev models.BroadcastEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warn("bad broadcast payload", slog.Any("error", err))
			return true
		}
		select {
		case c.broadcasts <- ev:
		case <-c.closing:
			return false
		}
	default:
		c.logger.Debug("ignoring frame", slog.String("type", env.Type))
	}
	return true
}
