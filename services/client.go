package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"livequiz/auth"
)

// Client is one live connection's read/write pumps plus the inbound action
// dispatch for its participant.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	identity  auth.Identity
}

// InboundMessage is the wire envelope for client actions.
type InboundMessage struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type submitAnswerPayload struct {
	QuestionIndex *int  `json:"question_index"`
	OptionIndex   *int  `json:"option_index"`
	OptionIndexes []int `json:"option_indexes"`
}

// actionPermissions is the role gate for inbound actions. An empty role means
// any authenticated participant may perform the action.
var actionPermissions = map[string]string{
	"start_session":   auth.RoleTeacher,
	"next_question":   auth.RoleTeacher,
	"submit_answer":   auth.RoleStudent,
	"get_leaderboard": "",
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}
		c.handleMessage(raw)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// handleMessage validates the envelope and role, then dispatches the action.
// Handler failures become error events; the connection stays open.
func (c *Client) handleMessage(raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendErrorMessage("invalid_json")
		return
	}

	requiredRole, known := actionPermissions[msg.Action]
	if !known {
		c.sendErrorMessage("unknown_action")
		return
	}
	if requiredRole != "" && c.identity.Role != requiredRole {
		c.sendError(ErrForbidden)
		return
	}

	ctx := context.Background()

	var err error
	switch msg.Action {
	case "start_session":
		err = c.hub.game.StartSession(ctx, c.sessionID)

	case "next_question":
		err = c.hub.game.NextQuestion(ctx, c.sessionID)

	case "submit_answer":
		err = c.submitAnswer(ctx, msg.Payload)

	case "get_leaderboard":
		var leaderboard []LeaderboardEntry
		leaderboard, err = c.hub.game.Leaderboard(ctx, c.sessionID, defaultLeaderboardSize)
		if err == nil {
			c.sendEvent("leaderboard", gin.H{"leaderboard": leaderboard})
		}
	}

	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) submitAnswer(ctx context.Context, raw json.RawMessage) error {
	var payload submitAnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ErrInvalidPayload
	}
	if payload.QuestionIndex == nil {
		return ErrInvalidPayload
	}

	selected := payload.OptionIndexes
	if len(selected) == 0 {
		if payload.OptionIndex == nil {
			return ErrInvalidPayload
		}
		selected = []int{*payload.OptionIndex}
	}

	if err := c.hub.game.SubmitAnswer(ctx, c.sessionID, c.identity.ID, *payload.QuestionIndex, selected); err != nil {
		return err
	}

	c.sendEvent("answer_ack", gin.H{"question_index": *payload.QuestionIndex})
	return nil
}

func (c *Client) sendEvent(event string, payload gin.H) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		log.Printf("error marshaling %s event: %v", event, err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(err error) {
	// Store failures are internal; everything else is safe to echo back.
	if errors.Is(err, ErrStoreUnavailable) {
		log.Printf("store error on session %s: %v", c.sessionID, err)
		c.sendErrorMessage("internal_error")
		return
	}
	c.sendErrorMessage(err.Error())
}

func (c *Client) sendErrorMessage(message string) {
	c.sendEvent("error", gin.H{"message": message})
}
