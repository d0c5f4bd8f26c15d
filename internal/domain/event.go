package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names a live distribution event.
type EventType string

const (
	EventHello      EventType = "hello"
	EventNewPost    EventType = "new_post"
	EventUpdatePost EventType = "update_post"
)

// Event is pushed to operator sessions when a post is created or changes.
type Event struct {
	// Seq is the global publish sequence, stamped by the hub.
	Seq         uint64    `json:"seq"`
	Type        EventType `json:"type"`
	Post        Post      `json:"post"`
	PublishedAt time.Time `json:"published_at"`
}

// NewEvent builds an event for a post snapshot.
func NewEvent(t EventType, p Post) Event {
	return Event{Type: t, Post: p.Clone(), PublishedAt: Now()}
}

// RawMessage represents an unprocessed message from the report source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Report is a citizen submission received from an upstream gateway.
type Report struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	// Source names the gateway, e.g. "sms".
	Source string `json:"source,omitempty"`
}

// ParseReport deserializes a RawMessage value into a Report. Fields are
// trimmed; emptiness is checked later by the incident service.
func ParseReport(raw RawMessage) (Report, error) {
	var r Report
	if err := json.Unmarshal(raw.Value, &r); err != nil {
		return Report{}, fmt.Errorf("parse report: %w", err)
	}
	r.Author = strings.TrimSpace(r.Author)
	r.Content = strings.TrimSpace(r.Content)
	r.Source = strings.TrimSpace(r.Source)
	if r.Source == "" {
		r.Source = raw.Headers["source"]
	}
	return r, nil
}
