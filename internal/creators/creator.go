package creators

import (
	"strings"

	"github.com/google/uuid"
)

// Creator records a client identity that has requested an access token.
type Creator struct {
	CreatorID         string `gorm:"column:creator_id;primaryKey;size:190;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	LastSeenAtSeconds int64  `gorm:"column:last_seen_at_s;not null;index"`
}

// TableName exposes the table backing creator identities.
func (Creator) TableName() string {
	return "creators"
}

// IDProvider mints identifiers for clients that do not present one.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
