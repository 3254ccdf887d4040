// Package events defines the messages exchanged over NATS JetStream.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SubjectBlogSubmitted carries BlogSubmittedEvent.
	SubjectBlogSubmitted = "blog.submitted"
	// SubjectBlogIllustrated carries BlogIllustratedEvent.
	SubjectBlogIllustrated = "blog.illustrated"
	// HeaderError names the NATS header holding the failure on dead-lettered messages.
	HeaderError = "Illustrator-Error"
)

// EventHeader contains metadata common to all events.
type EventHeader struct {
	Timestamp  time.Time `json:"Timestamp"`
	WorkflowID string    `json:"WorkflowID"`
	UserID     string    `json:"UserID"`
	TenantID   string    `json:"TenantID"`
	EventID    string    `json:"EventID"`
}

// IllustrationSettings are per-job overrides supplied by the submitter.
type IllustrationSettings struct {
	MaxImages *int   `json:"MaxImages,omitempty"`
	Title     string `json:"Title,omitempty"`
}

// BlogSubmittedEvent asks for a Markdown object to be illustrated.
type BlogSubmittedEvent struct {
	Header      EventHeader           `json:"Header"`
	MarkdownKey string                `json:"MarkdownKey"`
	Settings    *IllustrationSettings `json:"Settings,omitempty"`
}

// BlogIllustratedEvent reports the stored illustrated copy and its assets.
type BlogIllustratedEvent struct {
	Header       EventHeader `json:"Header"`
	MarkdownKey  string      `json:"MarkdownKey"`
	OutputKey    string      `json:"OutputKey"`
	PlanSource   string      `json:"PlanSource"`
	AssetKeys    []string    `json:"AssetKeys"`
	Images       int         `json:"Images"`
	Placeholders int         `json:"Placeholders"`
}

// DerivedHeader copies the workflow identity of source under a fresh event id.
func DerivedHeader(source EventHeader) EventHeader {
	return EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: source.WorkflowID,
		UserID:     source.UserID,
		TenantID:   source.TenantID,
		EventID:    uuid.NewString(),
	}
}
