// Package conversation holds the ordered, append-only message history sent
// to a model backend.
package conversation

import (
	"fmt"
	"strings"
	"sync"
)

// Role tags who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one role-tagged entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Sink persists the full transcript. It is called after every append.
type Sink interface {
	Save(messages []Message) error
}

// Conversation is safe for concurrent readers; the controller is its only
// writer.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	sink     Sink
}

// New returns an empty conversation. sink may be nil.
func New(sink Sink) *Conversation {
	return &Conversation{sink: sink}
}

// FromMessages seeds a conversation with an existing history, for example one
// restored with Load.
func FromMessages(messages []Message, sink Sink) *Conversation {
	c := New(sink)
	c.messages = append(c.messages, messages...)
	return c
}

// Add appends a message and hands the whole transcript to the sink. The
// message stays appended even when the sink fails.
func (c *Conversation) Add(role Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("conversation: unknown role %q", role)
	}
	c.mu.Lock()
	c.messages = append(c.messages, Message{Role: role, Content: content})
	snapshot := c.copyLocked()
	sink := c.sink
	c.mu.Unlock()

	if sink == nil {
		return nil
	}
	if err := sink.Save(snapshot); err != nil {
		return fmt.Errorf("conversation: persist: %w", err)
	}
	return nil
}

// Messages returns a copy of the history in order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message with the given role.
func (c *Conversation) Last(role Role) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Transcript renders the history as "role: content" paragraphs.
func (c *Conversation) Transcript() string {
	return Render(c.Messages())
}

// Render formats messages as "role: content" paragraphs separated by a blank
// line.
func Render(messages []Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}

func (c *Conversation) copyLocked() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
