package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/auth"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/config"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/creators"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/database"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/remote"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var codePattern = regexp.MustCompile(`code:\s+(\d{4})`)

func newTestAPI(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:linkdrop_cli_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	registry, err := creators.NewRegistry(creators.RegistryConfig{Database: db})
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
		TokenManager: issuer,
		Creators:     registry,
		Links:        repository,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return httpServer.URL
}

func newTestApp(t *testing.T, serverURL string, out *bytes.Buffer) *app {
	t.Helper()
	cfg := config.ClientConfig{
		ServerURL:    serverURL,
		IdentityPath: filepath.Join(t.TempDir(), "identity.yaml"),
		ShareBaseURL: "https://linkdrop.app/",
	}
	a, err := newApp(context.Background(), cfg, out, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct app: %v", err)
	}
	return a
}

func droppedCode(t *testing.T, output string) string {
	t.Helper()
	match := codePattern.FindStringSubmatch(output)
	if match == nil {
		t.Fatalf("no code in output:\n%s", output)
	}
	return match[1]
}

func TestCommandsShareBetweenIdentities(t *testing.T) {
	serverURL := newTestAPI(t)
	ctx := context.Background()
	var ownerOut, guestOut bytes.Buffer
	owner := newTestApp(t, serverURL, &ownerOut)
	guest := newTestApp(t, serverURL, &guestOut)

	if err := owner.drop(ctx, "https://example.com/article"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	code := droppedCode(t, ownerOut.String())
	if !strings.Contains(ownerOut.String(), "share:   https://linkdrop.app/?code="+code) {
		t.Fatalf("expected share url in output:\n%s", ownerOut.String())
	}

	if _, err := guest.get(ctx, code); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.Contains(guestOut.String(), "https://example.com/article") {
		t.Fatalf("expected content in output:\n%s", guestOut.String())
	}

	if err := guest.update(ctx, code, "hijack"); err == nil {
		t.Fatalf("expected guest update to fail")
	}
	if err := guest.remove(ctx, code); err == nil || !strings.Contains(err.Error(), "only the creator") {
		t.Fatalf("expected guest delete to be refused, got %v", err)
	}

	ownerOut.Reset()
	if err := owner.update(ctx, code, "https://example.com/fixed"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := owner.list(ctx); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(ownerOut.String(), code+"  ") || !strings.Contains(ownerOut.String(), "https://example.com/fixed") {
		t.Fatalf("unexpected listing:\n%s", ownerOut.String())
	}

	guestOut.Reset()
	if err := guest.open(ctx, "https://linkdrop.app/?code="+code+"&ref=chat"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !strings.Contains(guestOut.String(), "opened from https://linkdrop.app/?ref=chat") {
		t.Fatalf("expected stripped url in output:\n%s", guestOut.String())
	}
	guestOut.Reset()
	guest.received()
	if !strings.Contains(guestOut.String(), code) {
		t.Fatalf("expected received link in output:\n%s", guestOut.String())
	}

	if err := owner.remove(ctx, code); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := guest.get(ctx, code); err == nil {
		t.Fatalf("expected deleted link to be unavailable")
	}
}

func TestDropRefusesSixthLink(t *testing.T) {
	serverURL := newTestAPI(t)
	ctx := context.Background()
	var out bytes.Buffer
	a := newTestApp(t, serverURL, &out)
	for index := 0; index < links.DefaultActiveLimit; index++ {
		if err := a.drop(ctx, fmt.Sprintf("drop %d", index)); err != nil {
			t.Fatalf("drop %d failed: %v", index, err)
		}
	}
	err := a.drop(ctx, "one too many")
	if err == nil || !strings.Contains(err.Error(), "already have 5 active links") {
		t.Fatalf("expected capacity message, got %v", err)
	}
}

func TestWatchStopsAtExpiry(t *testing.T) {
	serverURL := newTestAPI(t)
	ctx := context.Background()
	var out bytes.Buffer
	a := newTestApp(t, serverURL, &out)
	if err := a.drop(ctx, "countdown"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	code := droppedCode(t, out.String())

	start := time.Now()
	a.clock = func() time.Time { return start.Add(links.LinkLifetime) }
	out.Reset()
	if err := a.watch(ctx, code, time.Millisecond); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if !strings.Contains(out.String(), code+" expired") {
		t.Fatalf("expected expired countdown, got:\n%s", out.String())
	}
}

func TestShellSessionKeepsReceivedLinks(t *testing.T) {
	serverURL := newTestAPI(t)
	ctx := context.Background()
	var ownerOut, guestOut bytes.Buffer
	owner := newTestApp(t, serverURL, &ownerOut)
	guest := newTestApp(t, serverURL, &guestOut)

	if err := owner.drop(ctx, "for the shell"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	code := droppedCode(t, ownerOut.String())

	script := strings.Join([]string{"help", "get " + code, "received", "bogus", "delete " + code, "quit", "list"}, "\n")
	if err := guest.runShell(ctx, strings.NewReader(script)); err != nil {
		t.Fatalf("shell failed: %v", err)
	}
	output := guestOut.String()
	for _, fragment := range []string{"commands:", "for the shell", "received:\n  " + code, `unknown command "bogus"`, "error: only the creator"} {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected %q in shell output:\n%s", fragment, output)
		}
	}
	if strings.Contains(output, "your links:") {
		t.Fatalf("expected commands after quit to be ignored:\n%s", output)
	}
}

func TestServerFailuresStayOutOfOutput(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusInternalServerError)
		_, _ = writer.Write([]byte(`{"error":"pq: relation \"links\" does not exist","code":"links.find_active.query_failed"}`))
	}))
	t.Cleanup(failing.Close)

	client, err := remote.NewClient(remote.ClientConfig{BaseURL: failing.URL})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	var out bytes.Buffer
	a, err := newAppWithClient("guest", client, "https://linkdrop.app/", time.Now, &out, zap.New(core))
	if err != nil {
		t.Fatalf("failed to construct app: %v", err)
	}

	_, err = a.get(context.Background(), "1234")
	if !errors.Is(err, errServerFailure) {
		t.Fatalf("expected generic failure, got %v", err)
	}
	if strings.Contains(err.Error(), "relation") || strings.Contains(out.String(), "relation") {
		t.Fatalf("server detail leaked into output: %v / %q", err, out.String())
	}
	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 || !strings.Contains(entries[0].ContextMap()["error"].(string), "status 500") {
		t.Fatalf("expected the failure to be logged with its detail, got %#v", entries)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("  a\n b  "); got != "a b" {
		t.Fatalf("unexpected preview %q", got)
	}
	long := strings.Repeat("x", 60)
	if got := preview(long); len([]rune(got)) != 48 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected truncated preview %q", got)
	}
}
