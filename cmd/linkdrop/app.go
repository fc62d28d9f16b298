package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/config"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/identity"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/remote"
	"go.uber.org/zap"
)

var (
	errLinkUnavailable = errors.New("no active link with that code")
	errNotUpdatable    = errors.New("no active link of yours with that code")
	errMissingEntry    = errors.New("url does not carry a code parameter")
	errServerFailure   = errors.New("could not complete the request, check the server and try again")
)

// app is one client session: a store bound to the persisted identity and the API.
type app struct {
	store        *links.Store
	client       *remote.Client
	shareBaseURL string
	clock        func() time.Time
	out          io.Writer
	logger       *zap.Logger
}

func newApp(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *zap.Logger) (*app, error) {
	authClient, err := remote.NewClient(remote.ClientConfig{BaseURL: cfg.ServerURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	session, err := identity.Open(identity.Config{
		Path:          cfg.IdentityPath,
		Authenticator: authClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	creatorID, err := session.CreatorID(ctx)
	if err != nil {
		return nil, err
	}
	client, err := remote.NewClient(remote.ClientConfig{BaseURL: cfg.ServerURL, Tokens: session, Logger: logger})
	if err != nil {
		return nil, err
	}
	return newAppWithClient(creatorID, client, cfg.ShareBaseURL, time.Now, out, logger)
}

func newAppWithClient(creatorID links.CreatorID, client *remote.Client, shareBaseURL string, clock func() time.Time, out io.Writer, logger *zap.Logger) (*app, error) {
	store, err := links.NewStore(links.StoreConfig{
		CreatorID: creatorID,
		Remote:    client,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		store:        store,
		client:       client,
		shareBaseURL: shareBaseURL,
		clock:        clock,
		out:          out,
		logger:       logger,
	}, nil
}

func (a *app) drop(ctx context.Context, content string) error {
	link, err := a.store.DropLink(ctx, content)
	if err != nil {
		return a.describeError(err)
	}
	fmt.Fprintf(a.out, "code:    %s\n", link.Code)
	if shareURL, err := links.ShareURL(a.shareBaseURL, link.Code); err == nil {
		fmt.Fprintf(a.out, "share:   %s\n", shareURL)
	}
	fmt.Fprintf(a.out, "expires: %s (in %s)\n", link.ExpiresAt.Local().Format(time.Kitchen), links.TimeLeft(link.ExpiresAt, a.clock()))
	return nil
}

func (a *app) get(ctx context.Context, rawCode string) (*links.Link, error) {
	code, err := links.NewCode(rawCode)
	if err != nil {
		return nil, err
	}
	link, err := a.store.GetLink(ctx, code)
	if err != nil {
		return nil, a.describeError(err)
	}
	if link == nil {
		return nil, fmt.Errorf("%s: %w", code, errLinkUnavailable)
	}
	fmt.Fprintln(a.out, link.Content)
	fmt.Fprintf(a.out, "expires in %s\n", links.TimeLeft(link.ExpiresAt, a.clock()))
	return link, nil
}

func (a *app) update(ctx context.Context, rawCode, content string) error {
	code, err := links.NewCode(rawCode)
	if err != nil {
		return err
	}
	if err := a.store.Load(ctx); err != nil {
		return a.describeError(err)
	}
	link, err := a.store.UpdateLink(ctx, code, content)
	if err != nil {
		return a.describeError(err)
	}
	if link == nil {
		return fmt.Errorf("%s: %w", code, errNotUpdatable)
	}
	fmt.Fprintf(a.out, "updated %s, expires in %s\n", link.Code, links.TimeLeft(link.ExpiresAt, a.clock()))
	return nil
}

func (a *app) remove(ctx context.Context, rawCode string) error {
	code, err := links.NewCode(rawCode)
	if err != nil {
		return err
	}
	if err := a.store.Load(ctx); err != nil {
		return a.describeError(err)
	}
	if err := a.store.DeleteLink(ctx, code); err != nil {
		return a.describeError(err)
	}
	fmt.Fprintf(a.out, "deleted %s\n", code)
	return nil
}

func (a *app) list(ctx context.Context) error {
	if err := a.store.Load(ctx); err != nil {
		return a.describeError(err)
	}
	a.printLinks("your links", a.store.ActiveLinks())
	return nil
}

func (a *app) received() {
	a.printLinks("received", a.store.ReceivedLinks())
}

func (a *app) printLinks(title string, items []links.Link) {
	if len(items) == 0 {
		fmt.Fprintf(a.out, "%s: none\n", title)
		return
	}
	fmt.Fprintf(a.out, "%s:\n", title)
	now := a.clock()
	for _, link := range items {
		fmt.Fprintf(a.out, "  %s  %s  %s\n", link.Code, links.TimeLeft(link.ExpiresAt, now), preview(link.Content.String()))
	}
}

// follow reprints the caller's links whenever the server reports a change, until ctx is done.
func (a *app) follow(ctx context.Context) error {
	if err := a.list(ctx); err != nil {
		return err
	}
	return a.client.StreamEvents(ctx, func(event remote.StreamEvent) {
		if event.Name == api.EventHeartbeat {
			return
		}
		a.logger.Debug("link change received", zap.String("event", event.Name), zap.String("code", event.Payload.ID))
		fmt.Fprintf(a.out, "%s %s\n", event.Name, event.Payload.ID)
		if err := a.list(ctx); err != nil {
			a.logger.Warn("failed to refresh links", zap.Error(err))
		}
	})
}

func (a *app) watch(ctx context.Context, rawCode string, interval time.Duration) error {
	code, err := links.NewCode(rawCode)
	if err != nil {
		return err
	}
	link, err := a.store.GetLink(ctx, code)
	if err != nil {
		return a.describeError(err)
	}
	if link == nil {
		return fmt.Errorf("%s: %w", code, errLinkUnavailable)
	}
	return links.WatchCountdown(ctx, link.ExpiresAt, a.clock, interval, func(countdown links.Countdown) {
		fmt.Fprintf(a.out, "%s %s\n", code, countdown)
	})
}

func (a *app) open(ctx context.Context, rawURL string) error {
	code, stripped, ok, err := links.ParseEntryURL(rawURL)
	if err != nil {
		return err
	}
	if !ok {
		return errMissingEntry
	}
	if _, err := a.get(ctx, code.String()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "opened from %s\n", stripped)
	return nil
}

func preview(content string) string {
	flattened := strings.Join(strings.Fields(content), " ")
	runes := []rune(flattened)
	if len(runes) <= 48 {
		return flattened
	}
	return string(runes[:47]) + "…"
}

// describeError turns store failures into messages for the terminal. Unrecognized failures are logged and
// replaced with a generic message so transport and server internals stay out of the output.
func (a *app) describeError(err error) error {
	switch {
	case errors.Is(err, links.ErrCapacityExceeded):
		return fmt.Errorf("you already have %d active links; delete one or wait for one to expire", links.DefaultActiveLimit)
	case errors.Is(err, links.ErrNotOwner):
		return errors.New("only the creator can delete a link")
	case errors.Is(err, links.ErrInvalidContent):
		return fmt.Errorf("content must be 1 to %d characters", links.MaxContentLength)
	case errors.Is(err, links.ErrCodeSpaceExhausted):
		return errors.New("no free code is available right now, try again later")
	case errors.Is(err, links.ErrNotFound):
		return errNotUpdatable
	case errors.Is(err, remote.ErrRateLimited):
		return errors.New("too many lookups, try again shortly")
	case errors.Is(err, remote.ErrUnauthorized):
		return errors.New("the server rejected the stored identity token")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	a.logger.Warn("request failed", zap.Error(err), zap.String("error_code", links.ErrorCode(err)))
	return errServerFailure
}
