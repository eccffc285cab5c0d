package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/auth"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/events"
)

// WSHub pushes payment and session events to the sockets of the wallets
// they concern.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

// Start subscribes the hub; delivery stops when ctx is cancelled.
func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, h.dispatch, events.StreamPayments, events.StreamSessions)
}

func (h *WSHub) dispatch(event events.Event) {
	h.SendToWallet(event.Wallet(), event)
	if event.Type == events.EventPaymentCompleted {
		if creator, _ := event.Payload["creator_wallet"].(string); creator != "" && creator != event.Wallet() {
			h.SendToWallet(creator, event)
		}
	}
}

func (h *WSHub) SendToWallet(wallet string, event events.Event) {
	if wallet == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[wallet] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil || claims.Wallet == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	wallet := claims.Wallet

	h.mu.Lock()
	h.connections[wallet] = append(h.connections[wallet], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[wallet]
		for i, c := range conns {
			if c == conn {
				h.connections[wallet] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[wallet]) == 0 {
			delete(h.connections, wallet)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// read loop keeps the connection alive until the client leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
