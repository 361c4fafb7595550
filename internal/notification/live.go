package notification

import (
	"encoding/json"
	"net/http"
	"time"

	"formation-review/internal/common/auth"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"

	"github.com/gorilla/websocket"
)

// LiveConfig tunes connection keepalive.
type LiveConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

func (c *LiveConfig) applyDefaults() {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

const maxClientMessage = 4096

type clientMessage struct {
	Type string `json:"type"`
}

// LiveHandler serves the websocket notification channel. The bearer token
// is checked before the upgrade; a refused connection never subscribes.
type LiveHandler struct {
	verifier auth.Verifier
	hub      *Hub
	config   LiveConfig
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewLiveHandler(verifier auth.Verifier, hub *Hub, cfg LiveConfig, log logger.Logger) *LiveHandler {
	cfg.applyDefaults()
	h := &LiveHandler{
		verifier: verifier,
		hub:      hub,
		config:   cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "live"}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": stdErr})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"userId": identity.UserID, "error": err})
		return
	}

	client := h.hub.Subscribe(identity.UserID)
	h.logger.Info("live connection opened", map[string]interface{}{"userId": identity.UserID})

	established, _ := json.Marshal(Message{
		Type:    MessageConnectionEstablished,
		Message: "WebSocket connected successfully",
		UserID:  identity.UserID,
	})
	client.deliver(established)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, client)
	}()

	h.readPump(conn, client)

	h.hub.Unsubscribe(client)
	<-writerDone
	_ = conn.Close()
	h.logger.Info("live connection closed", map[string]interface{}{"userId": identity.UserID})
}

func (h *LiveHandler) readPump(conn *websocket.Conn, client *Client) {
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live connection read error", map[string]interface{}{"userId": client.UserID(), "error": err})
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.config.PongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.deliver(encodeControl(MessageError, "Invalid JSON"))
			continue
		}
		if msg.Type == "ping" {
			client.deliver(encodeControl(MessagePong, "pong"))
		}
	}
}

func (h *LiveHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
