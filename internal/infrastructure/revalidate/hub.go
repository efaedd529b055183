package revalidate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"memberdash/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const MessageTypeRevalidate = "revalidate"

// Message is pushed to every websocket subscriber.
type Message struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Purger drops cached renders under a path prefix.
type Purger interface {
	Invalidate(prefix string) int
}

type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type subscriber struct {
	send chan Message
}

// Hub is the invalidation notifier. Invalidate never fails the caller:
// the local purge always happens, push and fan-out errors are logged.
type Hub struct {
	purgers  []Purger
	bus      *EventBus
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration

	logger *zap.SugaredLogger
}

func NewHub(cfg Config, bus *EventBus, logger *zap.SugaredLogger, purgers ...Purger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	h := &Hub{
		purgers:      purgers,
		bus:          bus,
		subscribers:  make(map[*subscriber]struct{}),
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  2 * cfg.PingInterval,
		logger:       logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) Invalidate(ctx context.Context, path string) {
	h.apply(ctx, path)

	if h.bus != nil {
		if err := h.bus.Publish(ctx, path); err != nil {
			h.logger.Warnw("Failed to fan out revalidation", "path", path, "error", err)
		}
	}
}

func (h *Hub) apply(ctx context.Context, path string) {
	_, span := tracing.TraceWebSocketMessage(ctx, MessageTypeRevalidate, path)
	defer span.End()

	purged := 0
	for _, p := range h.purgers {
		purged += p.Invalidate(path)
	}
	sent := h.broadcast(Message{Type: MessageTypeRevalidate, Path: path})

	h.logger.Debugw("Route revalidated", "path", path, "purged", purged, "subscribers", sent)
}

// Run replays invalidations published by other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		return
	}
	for {
		err := h.bus.Subscribe(ctx, func(event *Event) {
			h.apply(ctx, event.Path)
		})
		if ctx.Err() != nil {
			return
		}
		h.logger.Warnw("Revalidation subscription dropped, retrying", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// broadcast drops subscribers whose buffer is full.
func (h *Hub) broadcast(msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
			sent++
		default:
			delete(h.subscribers, sub)
			close(sub.send)
			h.logger.Warn("Dropping slow revalidation subscriber")
		}
	}
	return sent
}

func (h *Hub) register() *subscriber {
	sub := &subscriber{send: make(chan Message, 16)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleWebSocket upgrades the request and streams revalidate messages
// until the client goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.register()
	defer h.unregister(sub)
	h.logger.Debugw("Revalidation subscriber connected", "remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	// subscribers only listen; reading surfaces close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debugw("revalidation subscriber read error", "error", err)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debugw("error writing revalidation", "error", err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
