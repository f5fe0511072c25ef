package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"contentcollab/backend/internal/collab"
	"contentcollab/backend/internal/store"
)

// 允许本地开发环境的来源；部署环境由反向代理收紧
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" {
			return true
		}
		allowedPrefixes := []string{
			"http://localhost",
			"http://127.0.0.1",
			"https://localhost",
			"https://127.0.0.1",
		}
		for _, p := range allowedPrefixes {
			if strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	},
}

// UserDirectory 用户资料查询，token 里缺名字时兜底
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (store.UserRecord, error)
}

type Manager struct {
	hub          *Hub
	svc          collab.Service
	sem          *collab.SemaphoreControl
	users        UserDirectory
	heartbeatTTL time.Duration
}

func NewManager(hub *Hub, svc collab.Service, sem *collab.SemaphoreControl, users UserDirectory, heartbeatTTL time.Duration) *Manager {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 600 * time.Second
	}
	return &Manager{hub: hub, svc: svc, sem: sem, users: users, heartbeatTTL: heartbeatTTL}
}

// WebSocketConnect 升级连接并进入读写循环。身份由鉴权中间件写进
// gin context；没有有效身份的握手直接拒绝，不升级。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	user := collab.Collaborator{
		ID:    c.GetString("userId"),
		Name:  c.GetString("userName"),
		Email: c.GetString("userEmail"),
	}
	if user.ID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHENTICATED",
			"message": "identity required for collaboration handshake",
		})
		return
	}
	if user.Name == "" && m.users != nil {
		if rec, err := m.users.GetUser(c.Request.Context(), user.ID); err == nil {
			user.Name = rec.Name
			if user.Email == "" {
				user.Email = rec.Email
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, m.svc, m.sem, user, m.heartbeatTTL)

	// 先起写循环，readLoop 阻塞到连接关闭
	go wsConn.writeLoop()
	wsConn.readLoop(c.Request.Context())
}
