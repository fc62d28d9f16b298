package creators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDProvider struct {
	id  string
	err error
}

func (p staticIDProvider) NewID() (string, error) {
	return p.id, p.err
}

func newTestRegistry(t *testing.T, provider IDProvider, clock func() time.Time) (*Registry, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:linkdrop_creators_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Creator{}); err != nil {
		t.Fatalf("failed to migrate creator schema: %v", err)
	}
	registry, err := NewRegistry(RegistryConfig{Database: db, IDProvider: provider, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry, db
}

func TestRegisterMintsIDWhenMissing(t *testing.T) {
	registry, _ := newTestRegistry(t, staticIDProvider{id: "minted-id"}, func() time.Time { return time.Unix(100, 0) })

	creatorID, err := registry.Register(context.Background(), "   ")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if creatorID != "minted-id" {
		t.Fatalf("expected minted id, got %q", creatorID)
	}
	record, err := registry.Lookup(context.Background(), creatorID)
	if err != nil || record == nil {
		t.Fatalf("expected stored creator, got %v (%v)", record, err)
	}
	if record.CreatedAtSeconds != 100 || record.LastSeenAtSeconds != 100 {
		t.Fatalf("unexpected timestamps %#v", record)
	}
}

func TestRegisterKeepsPresentedIDAndRefreshesLastSeen(t *testing.T) {
	now := time.Unix(1000, 0)
	registry, _ := newTestRegistry(t, nil, func() time.Time { return now })
	ctx := context.Background()

	first, err := registry.Register(ctx, " client-123 ")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if first != "client-123" {
		t.Fatalf("expected trimmed presented id, got %q", first)
	}

	now = now.Add(30 * time.Second)
	if _, err := registry.Register(ctx, "client-123"); err != nil {
		t.Fatalf("second register failed: %v", err)
	}
	record, _ := registry.Lookup(ctx, first)
	if record.LastSeenAtSeconds != 1000 {
		t.Fatalf("expected last-seen to be throttled, got %d", record.LastSeenAtSeconds)
	}

	now = now.Add(time.Minute)
	if _, err := registry.Register(ctx, "client-123"); err != nil {
		t.Fatalf("third register failed: %v", err)
	}
	record, _ = registry.Lookup(ctx, first)
	if record.LastSeenAtSeconds != 1090 || record.CreatedAtSeconds != 1000 {
		t.Fatalf("expected last-seen refresh only, got %#v", record)
	}
}

func TestRegisterRejectsInvalidIDs(t *testing.T) {
	registry, _ := newTestRegistry(t, staticIDProvider{err: errors.New("entropy unavailable")}, nil)
	if _, err := registry.Register(context.Background(), ""); err == nil {
		t.Fatalf("expected minting failure to surface")
	}
	if _, err := registry.Register(context.Background(), strings.Repeat("x", 191)); !errors.Is(err, ErrInvalidCreator) {
		t.Fatalf("expected ErrInvalidCreator, got %v", err)
	}
}

func TestUUIDProviderIssuesVersionSeven(t *testing.T) {
	id, err := NewUUIDProvider().NewID()
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if len(id) != 36 || id[14] != '7' {
		t.Fatalf("expected a UUIDv7, got %q", id)
	}
}
