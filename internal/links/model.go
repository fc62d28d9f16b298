package links

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// CodeLength is the number of decimal digits in a share code.
	CodeLength = 4
	// MaxContentLength bounds dropped content in characters.
	MaxContentLength = 400
	// DefaultActiveLimit caps simultaneously active links per creator.
	DefaultActiveLimit = 5
	// LinkLifetime is the fixed time-to-live assigned at creation.
	LinkLifetime = 10 * time.Minute

	maxCreatorIDLength = 190
)

var (
	// ErrInvalidCode indicates that a share code is not exactly four decimal digits.
	ErrInvalidCode = errors.New("links: invalid code")
	// ErrInvalidContent indicates that content is blank or exceeds MaxContentLength.
	ErrInvalidContent = errors.New("links: invalid content")
	// ErrInvalidCreatorID indicates that a creator identifier is empty or exceeds storage bounds.
	ErrInvalidCreatorID = errors.New("links: invalid creator id")
	// ErrCapacityExceeded indicates that the creator already holds the maximum number of active links.
	ErrCapacityExceeded = errors.New("links: maximum number of active drops reached")
	// ErrNotOwner indicates that a mutation was attempted on a link the caller did not create.
	ErrNotOwner = errors.New("links: you can only delete your own links")
	// ErrCodeTaken indicates that an active link already holds the requested code.
	ErrCodeTaken = errors.New("links: code already in use")
	// ErrNotFound indicates that no row matched the filter.
	ErrNotFound = errors.New("links: not found")
	// ErrCodeSpaceExhausted indicates that no free code was found within the attempt budget.
	ErrCodeSpaceExhausted = errors.New("links: no free code available")
)

// Code is a validated four digit share code.
type Code string

// NewCode normalizes user input the same way the retrieve form does and validates it.
func NewCode(rawInput string) (Code, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if len(normalized) != CodeLength {
		return "", fmt.Errorf("%w: expected %d digits", ErrInvalidCode, CodeLength)
	}
	for index := 0; index < len(normalized); index++ {
		if normalized[index] < '0' || normalized[index] > '9' {
			return "", fmt.Errorf("%w: non-digit character", ErrInvalidCode)
		}
	}
	return Code(normalized), nil
}

// String returns the underlying code.
func (code Code) String() string {
	return string(code)
}

// Content is validated drop content.
type Content string

// NewContent rejects blank input and input longer than MaxContentLength characters.
func NewContent(rawInput string) (Content, error) {
	if strings.TrimSpace(rawInput) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if utf8.RuneCountInString(rawInput) > MaxContentLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, MaxContentLength)
	}
	return Content(rawInput), nil
}

// String returns the underlying content.
func (content Content) String() string {
	return string(content)
}

// CreatorID identifies the client that created a link.
type CreatorID string

// NewCreatorID validates raw input and returns a CreatorID.
func NewCreatorID(rawInput string) (CreatorID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCreatorID)
	}
	if len(trimmed) > maxCreatorIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCreatorID, maxCreatorIDLength)
	}
	return CreatorID(trimmed), nil
}

// String returns the underlying identifier.
func (id CreatorID) String() string {
	return string(id)
}

// Link is a shared content record.
type Link struct {
	Code      Code
	Content   Content
	CreatedAt time.Time
	ExpiresAt time.Time
	CreatorID CreatorID
}

// IsActive reports whether the link has not yet expired at now.
func (link Link) IsActive(now time.Time) bool {
	return link.ExpiresAt.After(now)
}

// OwnedBy reports whether creator created the link.
func (link Link) OwnedBy(creator CreatorID) bool {
	return creator != "" && link.CreatorID == creator
}

// CreatedAtMillis returns the creation time in epoch milliseconds.
func (link Link) CreatedAtMillis() int64 {
	return link.CreatedAt.UnixMilli()
}

// ExpiresAtMillis returns the expiration time in epoch milliseconds.
func (link Link) ExpiresAtMillis() int64 {
	return link.ExpiresAt.UnixMilli()
}

// LinkRecord is the persisted row backing a Link.
type LinkRecord struct {
	Code            string `gorm:"column:id;primaryKey;size:4;not null"`
	Content         string `gorm:"column:content;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	ExpiresAtMillis int64  `gorm:"column:expires_at_ms;not null;index:idx_links_creator_expiry,priority:2;index:idx_links_expiry"`
	CreatorID       string `gorm:"column:creator_id;size:190;not null;index:idx_links_creator_expiry,priority:1"`
}

// TableName provides the explicit table binding for GORM.
func (LinkRecord) TableName() string {
	return "links"
}

func newLinkRecord(link Link) LinkRecord {
	return LinkRecord{
		Code:            link.Code.String(),
		Content:         link.Content.String(),
		CreatedAtMillis: link.CreatedAtMillis(),
		ExpiresAtMillis: link.ExpiresAtMillis(),
		CreatorID:       link.CreatorID.String(),
	}
}

// Link converts the stored row into its domain form.
func (record LinkRecord) Link() Link {
	return Link{
		Code:      Code(record.Code),
		Content:   Content(record.Content),
		CreatedAt: time.UnixMilli(record.CreatedAtMillis).UTC(),
		ExpiresAt: time.UnixMilli(record.ExpiresAtMillis).UTC(),
		CreatorID: CreatorID(record.CreatorID),
	}
}
