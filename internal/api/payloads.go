// Package api defines the JSON documents exchanged between the linkdrop server and its clients.
package api

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
)

// Error reasons reported in ErrorResponse.Error.
const (
	ReasonInvalidRequest   = "invalid_request"
	ReasonInvalidCode      = "invalid_code"
	ReasonInvalidContent   = "invalid_content"
	ReasonInvalidCreator   = "invalid_creator_id"
	ReasonUnauthorized     = "unauthorized"
	ReasonNotFound         = "not_found"
	ReasonCodeTaken        = "code_taken"
	ReasonCapacityExceeded = "capacity_exceeded"
	ReasonRateLimited      = "rate_limited"
	ReasonTokenIssueFailed = "token_issue_failed"
	ReasonStorageFailed    = "storage_failed"
	ReasonStreamFailed     = "stream_unavailable"
)

// Realtime event names published on the creator event stream.
const (
	EventLinkCreated = "link-created"
	EventLinkUpdated = "link-updated"
	EventLinkDeleted = "link-deleted"
	EventHeartbeat   = "heartbeat"
)

// TimestampLayout is the ISO-8601 form used for every timestamp on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// LinkPayload is the wire form of a link row.
type LinkPayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	CreatorID string `json:"creator_id"`
}

// NewLinkPayload converts a link into its wire form.
func NewLinkPayload(link links.Link) LinkPayload {
	return LinkPayload{
		ID:        link.Code.String(),
		Content:   link.Content.String(),
		CreatedAt: FormatTimestamp(link.CreatedAt),
		ExpiresAt: FormatTimestamp(link.ExpiresAt),
		CreatorID: link.CreatorID.String(),
	}
}

// Link parses the wire form back into a link.
func (payload LinkPayload) Link() (links.Link, error) {
	code, err := links.NewCode(payload.ID)
	if err != nil {
		return links.Link{}, err
	}
	createdAt, err := ParseTimestamp(payload.CreatedAt)
	if err != nil {
		return links.Link{}, fmt.Errorf("created_at: %w", err)
	}
	expiresAt, err := ParseTimestamp(payload.ExpiresAt)
	if err != nil {
		return links.Link{}, fmt.Errorf("expires_at: %w", err)
	}
	return links.Link{
		Code:      code,
		Content:   links.Content(payload.Content),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		CreatorID: links.CreatorID(payload.CreatorID),
	}, nil
}

// LinkListResponse wraps the caller's active links.
type LinkListResponse struct {
	Links []LinkPayload `json:"links"`
}

// CreateLinkRequest inserts a row. ExpiresAt is informational; the server assigns the expiry.
type CreateLinkRequest struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// UpdateLinkRequest replaces the content of a row.
type UpdateLinkRequest struct {
	Content string `json:"content"`
}

// CreatorTokenRequest asks for a token; an empty CreatorID mints a new identity.
type CreatorTokenRequest struct {
	CreatorID string `json:"creator_id,omitempty"`
}

// CreatorTokenResponse carries the creator identity and its bearer token.
type CreatorTokenResponse struct {
	CreatorID   string `json:"creator_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// LinkEvent is the data of a realtime event.
type LinkEvent struct {
	ID        string `json:"id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp and returns it in UTC truncated to milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC().Truncate(time.Millisecond), nil
}
