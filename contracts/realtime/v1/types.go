package v1

import "time"

// Comment is a task comment as carried by new_comment frames and the REST comments page.
// Optimistic placeholders share the shape but carry a local id and an empty UserID.
type Comment struct {
	ID              string         `json:"id,omitempty"`
	TaskID          string         `json:"taskId,omitempty"`
	UserID          string         `json:"userId,omitempty"`
	UserName        string         `json:"userName,omitempty"`
	Content         string         `json:"content"`
	IsSystemMessage bool           `json:"isSystemMessage,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt,omitzero"`
	UpdatedAt       time.Time      `json:"updatedAt,omitzero"`
}

// CommentsPage is the REST response for GET /api/tasks/{taskId}/comments.
type CommentsPage struct {
	Comments []Comment `json:"comments"`
	HasMore  bool      `json:"hasMore"`
}

// ---- constructors ----

// Ping builds a keep-alive probe.
func Ping() Message { return Message{Type: TypePing} }

// Pong builds a keep-alive answer.
func Pong() Message { return Message{Type: TypePong} }

// JoinTask builds a join_task frame.
func JoinTask(taskID string) Message {
	return Message{Type: TypeJoinTask, TaskID: taskID}
}

// LeaveTask builds a leave_task frame.
func LeaveTask(taskID string) Message {
	return Message{Type: TypeLeaveTask, TaskID: taskID}
}

// PostComment builds an outbound new_comment frame carrying only the content.
func PostComment(taskID, content, messageID string) Message {
	return Message{
		Type:      TypeNewComment,
		TaskID:    taskID,
		Comment:   &Comment{Content: content},
		MessageID: messageID,
	}
}

// BroadcastComment builds an inbound new_comment frame for a confirmed comment.
func BroadcastComment(c Comment, messageID string) Message {
	cc := c
	return Message{
		Type:      TypeNewComment,
		TaskID:    c.TaskID,
		Comment:   &cc,
		MessageID: messageID,
	}
}

// TypingIndicator builds a typing_indicator frame.
func TypingIndicator(taskID string, isTyping bool) Message {
	return Message{Type: TypeTypingIndicator, TaskID: taskID, IsTyping: &isTyping}
}

// ConnectionEstablished builds the handshake success signal.
func ConnectionEstablished(userID string) Message {
	return Message{Type: TypeConnectionEstablished, UserID: userID}
}

// ErrorNotice builds a server-side error frame.
func ErrorNotice(code, msg string) Message {
	return Message{Type: TypeError, Error: code, Message: msg}
}
