package events

import (
	"testing"
	"time"
)

func TestNewPublisher_EmptyURLDisables(t *testing.T) {
	p, err := NewPublisher(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.enabled {
		t.Fatal("expected a disabled publisher for an empty URL")
	}
	// A disabled publisher must not panic on publish or close.
	p.PublishTaskEvent(SubjectTaskFinished, TaskEvent{TaskID: "t1", Timestamp: time.Now()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() on disabled publisher: %v", err)
	}
}

func TestNewPublisher_UnreachableURLDisablesRatherThanFails(t *testing.T) {
	p, err := NewPublisher(Config{URL: "nats://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.enabled {
		t.Fatal("expected a disabled publisher when the connection fails")
	}
}

func TestNilPublisher_PublishIsNoOp(t *testing.T) {
	var p *Publisher
	p.PublishTaskEvent(SubjectTaskFailed, TaskEvent{TaskID: "t1"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() on nil publisher: %v", err)
	}
}
