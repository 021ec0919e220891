package socket

import "github.com/google/uuid"

type SocketMessageType int

const (
	Update SocketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the unit of exchange over the websocket: commands arrive
// from clients, updates/responses flow back. A nil Target broadcasts.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Target *uuid.UUID             `json:"target,omitempty"`
	Origin *uuid.UUID             `json:"-"`
	Type   SocketMessageType      `json:"type"`
}

// FormReply builds a response to this message: same client (the origin
// becomes the target), same correlation id.
func (message *SocketMessage) FormReply(title string, body map[string]interface{}, msgType SocketMessageType) *SocketMessage {
	return &SocketMessage{
		Title:  title,
		Body:   body,
		Id:     message.Id,
		Target: message.Origin,
		Type:   msgType,
	}
}
