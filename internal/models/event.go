package models

import "time"

// EventType is the kind of lifecycle change published to subscribers.
type EventType string

const (
	EventInstalled   EventType = "installed"
	EventUninstalled EventType = "uninstalled"
	EventUpdated     EventType = "updated"
)

// Event is emitted after an install, update or uninstall completes.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	RepositoryID string    `json:"repository_id"`
	FullName     string    `json:"full_name,omitempty"`
	Time         time.Time `json:"time"`
}

// EventSink receives lifecycle events.
type EventSink interface {
	Publish(Event)
}
