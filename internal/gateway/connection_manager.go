// Package gateway is the websocket boundary: it upgrades connections,
// routes inbound client messages to the game service, and fans outbound
// events back to room members.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/game"
	"github.com/Daniele-DelVecchio/party-song-guess/internal/game/events"
)

// GameService is what the gateway needs from the game engine.
type GameService interface {
	CreateRoom(connID, playerName, totalRounds string) events.RoomSnapshot
	JoinRoom(roomID, connID, playerName string) (events.RoomSnapshot, error)
	StartGame(ctx context.Context, roomID string, p game.StartParams)
	SubmitGuess(roomID, playerID, guess string)
	HandleDisconnect(roomID, playerID string, remainingConns int)
}

// ConnectionManager manages websocket connections and their room pools.
type ConnectionManager struct {
	// Connection pools organized by room code, plus a direct index for
	// player-targeted sends.
	roomConnections map[string]map[*Connection]bool
	connsByID       map[string]*Connection
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	game     GameService

	broadcastCh chan BroadcastMessage
}

// Connection represents one websocket client. Its ID doubles as the
// opaque player identifier inside rooms.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	// done tells the pumps to stop. Send itself is never closed, so a
	// broadcast racing a disconnect enqueues into a channel nobody
	// drains instead of panicking.
	done      chan struct{}
	closeOnce sync.Once

	// roomID is empty until the client creates or joins a room; guarded
	// by Manager.mu.
	roomID string
}

// shutdown signals the pumps to exit. Safe to call more than once.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one queued outbound event. PlayerID narrows the
// delivery to a single connection when set.
type BroadcastMessage struct {
	RoomID   string
	PlayerID string
	Event    *events.Event
}

// DefaultConnectionConfig returns the default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a manager. SetGameService must be called
// before serving connections.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		connsByID:       make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetGameService wires the game engine in after construction; the
// service itself needs the manager as its broadcaster.
func (cm *ConnectionManager) SetGameService(gs GameService) {
	cm.game = gs
}

// Start processes queued broadcasts until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket and starts
// its read/write pumps. The connection belongs to no room yet.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	cm.mu.Lock()
	cm.connsByID[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Msg("websocket connection established")

	return nil
}

// joinRoomPool moves a connection into a room's pool.
func (cm *ConnectionManager) joinRoomPool(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.roomID = roomID

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("room_connections", len(cm.roomConnections[roomID])).
		Msg("connection joined room pool")
}

// unregisterConnection removes a connection and reports the disconnect
// to the game engine.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connsByID[conn.ID]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connsByID, conn.ID)
	conn.shutdown()

	roomID := conn.roomID
	remaining := 0
	if roomID != "" {
		if pool, exists := cm.roomConnections[roomID]; exists {
			delete(pool, conn)
			remaining = len(pool)
			if remaining == 0 {
				delete(cm.roomConnections, roomID)
			}
		}
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Msg("connection unregistered")

	if roomID != "" && cm.game != nil {
		cm.game.HandleDisconnect(roomID, conn.ID, remaining)
	}
}

// ToRoom queues an event for every connection in a room. Never blocks.
func (cm *ConnectionManager) ToRoom(roomID string, ev *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Event: ev}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

// ToPlayer queues an event for a single player. Never blocks.
func (cm *ConnectionManager) ToPlayer(roomID, playerID string, ev *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, PlayerID: playerID, Event: ev}:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("broadcast channel full, dropping player message")
	}
}

// handleBroadcast delivers one queued message.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.PlayerID != "" {
		if conn, ok := cm.connsByID[message.PlayerID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.roomConnections[message.RoomID] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		case <-conn.done:
			// Already disconnecting.
		default:
			// Connection is slow or dead.
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// sendDirect bypasses the broadcast queue for request/reply pairs like
// room_created, keeping them ordered before any room broadcast.
func (cm *ConnectionManager) sendDirect(conn *Connection, ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}
	select {
	case conn.Send <- data:
	case <-conn.done:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, dropping direct event")
	}
}

// GetConnectionStats returns counts for the stats endpoint.
func (cm *ConnectionManager) GetConnectionStats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connsByID), len(cm.roomConnections)
}

// writePump sends queued messages and periodic pings to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and routes them to the game service.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.Manager.dispatch(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
