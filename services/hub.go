package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"livequiz/auth"
)

// Broadcaster is the fan-out fabric at its interface: delivery to every
// connection registered under a session's broadcast group, optionally
// filtered by role. The GameService only depends on this interface.
type Broadcaster interface {
	ToSession(sessionID, event string, payload gin.H)
	ToRole(sessionID, role, event string, payload gin.H)
}

// Hub is the in-process broadcast fabric: it tracks every live connection,
// groups them by session and fans out events in publish order.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	game       *GameService
}

func NewHub(game *GameService) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		game:       game,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("client registered: session=%s participant=%s role=%s", client.sessionID, client.identity.ID, client.identity.Role)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("client unregistered: session=%s participant=%s", client.sessionID, client.identity.ID)
			}
			h.mu.Unlock()
		}
	}
}

// ToSession delivers an event to every connection in the session's group.
func (h *Hub) ToSession(sessionID, event string, payload gin.H) {
	h.deliver(sessionID, "", event, payload)
}

// ToRole delivers an event only to connections whose identity carries role.
func (h *Hub) ToRole(sessionID, role, event string, payload gin.H) {
	h.deliver(sessionID, role, event, payload)
}

func (h *Hub) deliver(sessionID, role, event string, payload gin.H) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Printf("error marshaling %s event: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.sessionID != sessionID {
			continue
		}
		if role != "" && client.identity.Role != role {
			continue
		}
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// RegisterClient attaches an authenticated connection to a session's group
// and starts its pumps. The initial-state event goes out before any student
// registration broadcast so the new connection always sees state first.
func (h *Hub) RegisterClient(conn *websocket.Conn, sessionID string, identity auth.Identity) *Client {
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
		identity:  identity,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	h.sendInitialState(client)

	if identity.Role == auth.RoleStudent {
		ctx := context.Background()
		if err := h.game.RegisterPlayer(ctx, sessionID, identity.ID, identity.DisplayName); err != nil {
			log.Printf("error registering player %s in session %s: %v", identity.ID, sessionID, err)
		} else {
			h.ToRole(sessionID, auth.RoleTeacher, "student_joined", gin.H{
				"player_id": identity.ID,
				"nickname":  identity.DisplayName,
			})
		}
	}

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// sendInitialState pushes the current session snapshot to a freshly joined
// connection, including the live question if one is active.
func (h *Hub) sendInitialState(client *Client) {
	ctx := context.Background()

	payload, err := h.game.InitialState(ctx, client.sessionID)
	if err != nil {
		log.Printf("error building initial state for session %s: %v", client.sessionID, err)
		client.sendError(err)
		return
	}
	client.sendEvent("initial_state", payload)

	index, question, ok, err := h.game.ActiveQuestion(ctx, client.sessionID)
	if err != nil {
		log.Printf("error loading active question for session %s: %v", client.sessionID, err)
		return
	}
	if ok {
		if client.identity.Role != auth.RoleTeacher {
			question = question.StudentView()
		}
		client.sendEvent("question_started", gin.H{
			"question_index": index,
			"question":       question,
		})
	}
}

func marshalEvent(event string, payload gin.H) ([]byte, error) {
	message := make(gin.H, len(payload)+1)
	for k, v := range payload {
		message[k] = v
	}
	message["type"] = event
	return json.Marshal(message)
}
