package api

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
)

func TestLinkPayloadPreservesMilliseconds(t *testing.T) {
	createdAt := time.Date(2026, time.October, 19, 12, 0, 0, 120_000_000, time.UTC)
	link := links.Link{
		Code:      "0420",
		Content:   "hello",
		CreatedAt: createdAt,
		ExpiresAt: links.GenerateExpirationTime(createdAt),
		CreatorID: "creator-a",
	}

	payload := NewLinkPayload(link)
	if payload.CreatedAt != "2026-10-19T12:00:00.120Z" || payload.ExpiresAt != "2026-10-19T12:10:00.120Z" {
		t.Fatalf("unexpected wire timestamps %s %s", payload.CreatedAt, payload.ExpiresAt)
	}
	restored, err := payload.Link()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if restored.Code != link.Code || restored.Content != link.Content || restored.CreatorID != link.CreatorID {
		t.Fatalf("expected %#v, got %#v", link, restored)
	}
	if !restored.CreatedAt.Equal(link.CreatedAt) || !restored.ExpiresAt.Equal(link.ExpiresAt) {
		t.Fatalf("expected timestamps to survive the wire, got %v/%v", restored.CreatedAt, restored.ExpiresAt)
	}
}

func TestLinkPayloadRejectsMalformedFields(t *testing.T) {
	payload := LinkPayload{ID: "12a4", CreatedAt: "2026-10-19T12:00:00Z", ExpiresAt: "2026-10-19T12:10:00Z"}
	if _, err := payload.Link(); err == nil {
		t.Fatalf("expected malformed code to be rejected")
	}
	payload.ID = "1234"
	payload.ExpiresAt = "yesterday"
	if _, err := payload.Link(); err == nil {
		t.Fatalf("expected malformed timestamp to be rejected")
	}
}

func TestParseTimestampNormalizesOffset(t *testing.T) {
	parsed, err := ParseTimestamp("2026-10-19T14:00:00.123456+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, time.October, 19, 12, 0, 0, 123_000_000, time.UTC); !parsed.Equal(want) || parsed.Location() != time.UTC {
		t.Fatalf("expected %v, got %v", want, parsed)
	}
}
