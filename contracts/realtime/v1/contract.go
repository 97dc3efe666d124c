// Package v1 defines the tasklink realtime protocol v1 contract.
//
// Frames are flat JSON objects with a mandatory "type" field. The package is shared
// between the client and the dev gateway to keep the wire protocol authoritative.
package v1

import (
	"errors"
	"fmt"
	"strings"
)

// Type constants (wire-stable).
const (
	// TypePing is the client keep-alive probe (client -> server).
	TypePing = "ping"
	// TypePong answers a ping (server -> client).
	TypePong = "pong"

	// TypeJoinTask subscribes the session to a task room (client -> server).
	TypeJoinTask = "join_task"
	// TypeLeaveTask unsubscribes the session from a task room (client -> server).
	TypeLeaveTask = "leave_task"

	// TypeNewComment posts a comment (client -> server) and broadcasts it (server -> room).
	TypeNewComment = "new_comment"

	// TypeTypingIndicator carries typing state in both directions.
	TypeTypingIndicator = "typing_indicator"

	// TypeConnectionEstablished signals handshake success (server -> client).
	TypeConnectionEstablished = "connection_established"

	// TypeError is a server-side error notice (server -> client).
	TypeError = "error"
)

// Message is the canonical wire frame. Only the fields relevant to Type are set.
type Message struct {
	Type      string   `json:"type"`
	TaskID    string   `json:"taskId,omitempty"`
	Comment   *Comment `json:"comment,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	IsTyping  *bool    `json:"isTyping,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	UserName  string   `json:"userName,omitempty"`
	Error     string   `json:"error,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Validate performs structural validation for a Message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Type) == "" {
		return errors.New("missing field: type")
	}

	switch m.Type {
	case TypePing, TypePong, TypeConnectionEstablished:
		return nil
	case TypeJoinTask, TypeLeaveTask:
		if strings.TrimSpace(m.TaskID) == "" {
			return errors.New("missing field: taskId")
		}
		return nil
	case TypeNewComment:
		if strings.TrimSpace(m.TaskID) == "" {
			return errors.New("missing field: taskId")
		}
		if m.Comment == nil {
			return errors.New("missing field: comment")
		}
		return nil
	case TypeTypingIndicator:
		if strings.TrimSpace(m.TaskID) == "" {
			return errors.New("missing field: taskId")
		}
		if m.IsTyping == nil {
			return errors.New("missing field: isTyping")
		}
		return nil
	case TypeError:
		if m.Error == "" && m.Message == "" {
			return errors.New("missing field: error")
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", m.Type)
	}
}
