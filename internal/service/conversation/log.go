// Package conversation is the append-only message log shared by the text
// and voice paths.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-support-client/internal/models"
)

// Log holds the conversation in display order. Entries are never changed
// after they are appended.
type Log struct {
	now func() time.Time

	mu       sync.RWMutex
	messages []models.ConversationMessage
	subs     map[int]func(models.ConversationMessage)
	nextSub  int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		now:  time.Now,
		subs: make(map[int]func(models.ConversationMessage)),
	}
}

// Append adds a message and notifies subscribers in append order.
func (l *Log) Append(role models.Role, text string, sources []string) models.ConversationMessage {
	msg := models.ConversationMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      strings.TrimSpace(text),
		CreatedAt: l.now().UTC(),
	}
	if len(sources) > 0 {
		msg.Sources = append([]string(nil), sources...)
	}

	// Notifying under the lock keeps subscriber order equal to log order.
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	for _, fn := range l.subs {
		fn(msg)
	}
	return msg
}

// Messages returns a copy of the log.
func (l *Log) Messages() []models.ConversationMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ConversationMessage(nil), l.messages...)
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message.
func (l *Log) Last() (models.ConversationMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return models.ConversationMessage{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Subscribe registers fn for every appended message. Subscribers must not
// append to the log. The returned func unsubscribes.
func (l *Log) Subscribe(fn func(models.ConversationMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}
