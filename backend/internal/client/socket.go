package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"contentcollab/backend/internal/ws"
)

// 连接状态。disconnected 会在重试预算内自动重连，
// error 是终态，需要显式 Reconnect。
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

var (
	ErrNotConnected = errors.New("socket not connected")
	ErrClosed       = errors.New("socket closed")
)

type Config struct {
	// 服务端 /collab/ws 地址，ws:// 或 wss://
	URL string
	// 身份提供方签发的 access token，握手时随 query 带上
	Token string

	MaxRetries   int
	RetryBackoff time.Duration
}

type Handler func(payload json.RawMessage)

// Socket 一条显式持有的协作连接。配置走构造函数注入，
// 不挂在任何包级全局变量上，生命周期对调用方完全可见。
type Socket struct {
	cfg Config

	mu       sync.RWMutex
	state    State
	conn     *websocket.Conn
	handlers map[string]Handler
	closed   bool

	writeMu sync.Mutex

	onState func(State)
}

func NewSocket(cfg Config) (*Socket, error) {
	if cfg.URL == "" {
		return nil, errors.New("socket url required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("socket url: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Socket{
		cfg:      cfg,
		state:    StateDisconnected,
		handlers: make(map[string]Handler),
	}, nil
}

// On 注册事件处理器，同名事件后注册的覆盖先注册的。
// 必须在 Connect 之前完成注册。
func (s *Socket) On(event string, h Handler) {
	s.mu.Lock()
	s.handlers[event] = h
	s.mu.Unlock()
}

// OnStateChange 注册连接状态回调（UI 的连接指示器用）。
func (s *Socket) OnStateChange(f func(State)) {
	s.mu.Lock()
	s.onState = f
	s.mu.Unlock()
}

func (s *Socket) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Socket) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	if err := s.dial(ctx); err != nil {
		s.setState(StateError)
		return err
	}
	return nil
}

// Reconnect 手动重连，error 状态下的唯一出路。
func (s *Socket) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

func (s *Socket) dial(ctx context.Context) error {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", s.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)

	go s.readPump(conn)
	return nil
}

func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if closed {
				s.setState(StateDisconnected)
				return
			}
			log.Debug().Err(err).Msg("socket read failed")
			s.setState(StateDisconnected)
			s.retryLoop()
			return
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("bad server frame")
			continue
		}
		s.mu.RLock()
		h := s.handlers[env.Type]
		s.mu.RUnlock()
		if h != nil {
			h(env.Payload)
		}
	}
}

// retryLoop 固定退避、有限次数的自动重连。
// 预算耗尽转入 error 状态等待手动处理。
func (s *Socket) retryLoop() {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		time.Sleep(s.cfg.RetryBackoff)

		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}

		s.setState(StateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max", s.cfg.MaxRetries).Msg("reconnect failed")
	}
	s.setState(StateError)
}

// Send 发送一条协议消息，fire-and-forget。
func (s *Socket) Send(msg ws.Message) error {
	s.mu.RLock()
	conn := s.conn
	state := s.state
	s.mu.RUnlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	b, err := ws.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
