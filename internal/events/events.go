// Package events carries memo mutation events between replicas over NATS
// JetStream so every replica can drop its cached search results.
package events

import "time"

// FetchTimeout bounds a single batch fetch from the invalidation consumer.
const FetchTimeout = 2 * time.Second

// DefaultStream is the JetStream stream holding memo events.
const DefaultStream = "MEMOS"

// SubjectPrefix is followed by the action, e.g. memos.events.created.
const SubjectPrefix = "memos.events"

// MemoChanged is published after a memo is created, updated or deleted.
type MemoChanged struct {
	Action    string    `json:"action"`
	OwnerID   string    `json:"owner_id"`
	MemoID    int64     `json:"memo_id"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the subject an action is published on.
func Subject(action string) string {
	return SubjectPrefix + "." + action
}
