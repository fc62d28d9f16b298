package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/auth"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/creators"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/database"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type staticTokens struct {
	token string
	err   error
}

func (tokens staticTokens) AccessToken(context.Context) (string, error) {
	return tokens.token, tokens.err
}

type apiHarness struct {
	url   string
	clock *testClock
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &testClock{now: time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)}

	dsn := fmt.Sprintf("file:linkdrop_remote_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.DriverSQLite, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	repository, err := links.NewGormRepository(links.GormRepositoryConfig{Database: db, ActiveLimit: links.DefaultActiveLimit})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	registry, err := creators.NewRegistry(creators.RegistryConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      issuer,
		Creators:          registry,
		Links:             repository,
		HeartbeatInterval: 50 * time.Millisecond,
		Clock:             clock.Now,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return &apiHarness{url: httpServer.URL, clock: clock}
}

func (harness *apiHarness) client(t *testing.T, creatorID string) (*Client, links.CreatorID) {
	t.Helper()
	anonymous, err := NewClient(ClientConfig{BaseURL: harness.url})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	token, err := anonymous.Authenticate(context.Background(), creatorID)
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	client, err := NewClient(ClientConfig{BaseURL: harness.url + "/", Tokens: staticTokens{token: token.AccessToken}})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client, links.CreatorID(token.CreatorID)
}

func (harness *apiHarness) store(t *testing.T, creatorID string, codes ...string) *links.Store {
	t.Helper()
	client, creator := harness.client(t, creatorID)
	store, err := links.NewStore(links.StoreConfig{
		CreatorID: creator,
		Remote:    client,
		Generator: &fixedGenerator{codes: codes},
		Clock:     harness.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

type fixedGenerator struct {
	mu    sync.Mutex
	codes []string
	index int
}

func (generator *fixedGenerator) GenerateCode() links.Code {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	code := generator.codes[generator.index%len(generator.codes)]
	generator.index++
	return links.Code(code)
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(ClientConfig{Tokens: staticTokens{}}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected missing url to be rejected, got %v", err)
	}
	if _, err := NewClient(ClientConfig{BaseURL: "localhost:8080", Tokens: staticTokens{}}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected relative url to be rejected, got %v", err)
	}
	anonymous, err := NewClient(ClientConfig{BaseURL: "http://localhost:8080"})
	if err != nil {
		t.Fatalf("expected a client without tokens to be allowed: %v", err)
	}
	if _, err := anonymous.ListActiveByCreator(context.Background(), "creator-a", time.Now()); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected authenticated call without tokens to be rejected, got %v", err)
	}
}

func TestAuthenticateMintsIdentity(t *testing.T) {
	harness := newAPIHarness(t)
	client, creator := harness.client(t, "")
	if creator == "" {
		t.Fatalf("expected a minted creator id")
	}
	again, err := client.Authenticate(context.Background(), creator.String())
	if err != nil {
		t.Fatalf("re-authentication failed: %v", err)
	}
	if again.CreatorID != creator.String() || again.TokenType != auth.TokenType {
		t.Fatalf("unexpected token response %#v", again)
	}
}

func TestClientMapsAPIErrorsToSentinels(t *testing.T) {
	harness := newAPIHarness(t)
	ctx := context.Background()
	owner, ownerID := harness.client(t, "creator-a")
	stranger, strangerID := harness.client(t, "creator-b")

	now := harness.clock.Now()
	link := links.Link{Code: "4821", Content: "hello", CreatedAt: now, ExpiresAt: links.GenerateExpirationTime(now), CreatorID: ownerID}
	created, err := owner.Insert(ctx, link)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !created.ExpiresAt.Equal(link.ExpiresAt) || created.CreatorID != ownerID {
		t.Fatalf("unexpected created link %#v", created)
	}

	link.CreatorID = strangerID
	_, err = stranger.Insert(ctx, link)
	if !errors.Is(err, links.ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "links.insert.code_taken" {
		t.Fatalf("unexpected api error %#v", apiErr)
	}

	if _, err := stranger.UpdateContent(ctx, "4821", strangerID, "hijack", now); !errors.Is(err, links.ErrNotFound) {
		t.Fatalf("expected foreign update to map to ErrNotFound, got %v", err)
	}
	if err := stranger.Delete(ctx, "4821", strangerID); !errors.Is(err, links.ErrNotFound) {
		t.Fatalf("expected foreign delete to map to ErrNotFound, got %v", err)
	}

	found, err := stranger.FindActive(ctx, "4821", now)
	if err != nil || found == nil || found.Content != "hello" {
		t.Fatalf("expected lookup to succeed, got %#v / %v", found, err)
	}
	missing, err := stranger.FindActive(ctx, "0000", now)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown code, got %#v / %v", missing, err)
	}

	unauthorized, err := NewClient(ClientConfig{BaseURL: harness.url, Tokens: staticTokens{token: "bogus"}})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if _, err := unauthorized.ListActiveByCreator(ctx, ownerID, now); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	broken, err := NewClient(ClientConfig{BaseURL: harness.url, Tokens: staticTokens{err: errors.New("no identity")}})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if _, err := broken.ListActiveByCreator(ctx, ownerID, now); err == nil {
		t.Fatalf("expected token source failure to surface")
	}
}

func TestStoreOverHTTPScenario(t *testing.T) {
	harness := newAPIHarness(t)
	ctx := context.Background()
	creatorA := harness.store(t, "creator-a", "4821")
	creatorB := harness.store(t, "creator-b", "1111")

	dropped, err := creatorA.DropLink(ctx, "hello")
	if err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if dropped.Code != "4821" {
		t.Fatalf("unexpected code %s", dropped.Code)
	}

	retrieved, err := creatorB.GetLink(ctx, dropped.Code)
	if err != nil || retrieved == nil {
		t.Fatalf("expected retrieval to succeed, got %#v / %v", retrieved, err)
	}
	if retrieved.Content != "hello" || !retrieved.ExpiresAt.Equal(dropped.ExpiresAt) {
		t.Fatalf("unexpected retrieved link %#v", retrieved)
	}
	if received := creatorB.ReceivedLinks(); len(received) != 1 {
		t.Fatalf("expected one received link, got %d", len(received))
	}

	if updated, err := creatorB.UpdateLink(ctx, dropped.Code, "hijack"); err != nil || updated != nil {
		t.Fatalf("expected foreign update to be a no-op, got %#v / %v", updated, err)
	}
	if err := creatorB.DeleteLink(ctx, dropped.Code); !errors.Is(err, links.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	updated, err := creatorA.UpdateLink(ctx, dropped.Code, "hello again")
	if err != nil || updated == nil || updated.Content != "hello again" || !updated.ExpiresAt.Equal(dropped.ExpiresAt) {
		t.Fatalf("unexpected update result %#v / %v", updated, err)
	}

	harness.clock.Advance(links.LinkLifetime)
	expired, err := creatorB.GetLink(ctx, dropped.Code)
	if err != nil || expired != nil {
		t.Fatalf("expected nil after expiry, got %#v / %v", expired, err)
	}
}

func TestStoreOverHTTPCapacity(t *testing.T) {
	harness := newAPIHarness(t)
	ctx := context.Background()
	store := harness.store(t, "creator-a", "0001", "0002", "0003", "0004", "0005", "0006")

	for index := 0; index < links.DefaultActiveLimit; index++ {
		if _, err := store.DropLink(ctx, fmt.Sprintf("drop %d", index)); err != nil {
			t.Fatalf("drop %d failed: %v", index, err)
		}
	}
	if _, err := store.DropLink(ctx, "overflow"); !errors.Is(err, links.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	other := harness.store(t, "creator-a", "0007")
	if err := other.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if active := other.ActiveLinks(); len(active) != links.DefaultActiveLimit {
		t.Fatalf("expected %d links visible to a second session, got %d", links.DefaultActiveLimit, len(active))
	}
	if err := other.DeleteLink(ctx, "0001"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.DropLink(ctx, "after delete"); err != nil {
		t.Fatalf("expected drop after delete to succeed: %v", err)
	}
}

func TestStreamEventsDeliversChanges(t *testing.T) {
	harness := newAPIHarness(t)
	owner, ownerID := harness.client(t, "creator-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan StreamEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- owner.StreamEvents(ctx, func(event StreamEvent) {
			events <- event
		})
	}()

	waitFor := func(name string) StreamEvent {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for %s", name)
			case event := <-events:
				if event.Name == name {
					return event
				}
			}
		}
	}
	waitFor(api.EventHeartbeat)

	now := harness.clock.Now()
	if _, err := owner.Insert(ctx, links.Link{Code: "2468", Content: "streamed", CreatedAt: now, ExpiresAt: links.GenerateExpirationTime(now), CreatorID: ownerID}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	created := waitFor(api.EventLinkCreated)
	if created.Payload.ID != "2468" {
		t.Fatalf("unexpected event payload %#v", created.Payload)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not stop after cancellation")
	}
}
