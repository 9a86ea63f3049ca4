package events

import (
	"context"
	"testing"
	"time"

	"voice-support-client/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerMessages != nil || p.writerSession != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicMessages: "test.messages",
		TopicSession:  "test.session",
		Principal:     "test-principal",
		QueueSize:     4,
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicMessages != "test.messages" || p.topicSession != "test.session" {
		t.Errorf("unexpected topics %s %s", p.topicMessages, p.topicSession)
	}
	if cap(p.queue) != 4 {
		t.Errorf("expected queue size 4, got %d", cap(p.queue))
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		TopicMessages: "test.messages",
		TopicSession:  "test.session",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerMessages.Topic != "test.messages" || p.writerSession.Topic != "test.session" {
		t.Errorf("unexpected writer topics %s %s", p.writerMessages.Topic, p.writerSession.Topic)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, Principal: "test-svc"})
	ctx := context.Background()

	msg := models.ConversationMessage{ID: "m-1", Role: models.RoleUser, Text: "hello", CreatedAt: time.Now()}
	if err := p.PublishMessage(ctx, msg); err != nil {
		t.Errorf("PublishMessage: %v", err)
	}

	ev := models.SessionEvent{EventType: models.EventSessionState, SessionID: "s-1", State: "LISTENING"}
	if err := p.PublishSession(ctx, ev); err != nil {
		t.Errorf("PublishSession: %v", err)
	}

	if err := p.PublishSchedule(ctx, "s-1", &models.ScheduleState{Active: true, Stage: models.StageOffering}); err != nil {
		t.Errorf("PublishSchedule: %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.publish(context.Background(), nil, "test", "test", "key", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_QueueDropsWhenFull(t *testing.T) {
	p := New(&Config{Enabled: false, QueueSize: 1})

	p.EnqueueMessage(models.ConversationMessage{ID: "m-1"})
	p.EnqueueSession(models.SessionEvent{SessionID: "s-1"})

	if len(p.queue) != 1 {
		t.Fatalf("expected one queued event, got %d", len(p.queue))
	}
}

func TestPublisher_RunDrainsQueue(t *testing.T) {
	p := New(&Config{Enabled: false, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.EnqueueMessage(models.ConversationMessage{ID: "m-1"})
	p.EnqueueSession(models.SessionEvent{SessionID: "s-1"})

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(p.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(p.queue) != 0 {
		t.Errorf("expected queue drained, %d left", len(p.queue))
	}

	cancel()
	<-done
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
