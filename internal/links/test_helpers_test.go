package links

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type sequenceGenerator struct {
	mu    sync.Mutex
	codes []Code
	index int
}

func newSequenceGenerator(codes ...string) *sequenceGenerator {
	generator := &sequenceGenerator{}
	for _, code := range codes {
		generator.codes = append(generator.codes, Code(code))
	}
	return generator
}

func (generator *sequenceGenerator) GenerateCode() Code {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	if generator.index >= len(generator.codes) {
		return generator.codes[len(generator.codes)-1]
	}
	code := generator.codes[generator.index]
	generator.index++
	return code
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (sink *recordingSink) Record(event Event) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, event)
}

func (sink *recordingSink) names() []string {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	names := make([]string, 0, len(sink.events))
	for _, event := range sink.events {
		names = append(names, event.Name)
	}
	return names
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:linkdrop_links_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&LinkRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T, activeLimit int) (*GormRepository, *gorm.DB) {
	t.Helper()
	db := newTestDatabase(t)
	repository, err := NewGormRepository(GormRepositoryConfig{Database: db, ActiveLimit: activeLimit})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository, db
}

func newTestStore(t *testing.T, creator string, remote RemoteStore, clock *testClock, generator CodeGenerator) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		CreatorID: CreatorID(creator),
		Remote:    remote,
		Generator: generator,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustCode(t *testing.T, value string) Code {
	t.Helper()
	code, err := NewCode(value)
	if err != nil {
		t.Fatalf("unexpected code error: %v", err)
	}
	return code
}

func mustContent(t *testing.T, value string) Content {
	t.Helper()
	content, err := NewContent(value)
	if err != nil {
		t.Fatalf("unexpected content error: %v", err)
	}
	return content
}

func newTestLink(t *testing.T, code, content, creator string, createdAt time.Time) Link {
	t.Helper()
	created := createdAt.UTC().Truncate(time.Millisecond)
	return Link{
		Code:      mustCode(t, code),
		Content:   mustContent(t, content),
		CreatedAt: created,
		ExpiresAt: GenerateExpirationTime(created),
		CreatorID: CreatorID(creator),
	}
}
