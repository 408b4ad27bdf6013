package main

import (
	"context"
	"log/slog"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/credstore"
	"github.com/jobvault/jobvault/internal/enroll"
	"github.com/jobvault/jobvault/internal/resume"
	"github.com/jobvault/jobvault/internal/session"
)

// App is the wired object graph for one invocation: the credential store,
// the session coordinator, and the authenticated client built on top.
type App struct {
	Store   credstore.Store
	Session *session.Coordinator
	Client  *api.Client
	Enroll  *enroll.Machine
	Resumes *resume.Manager
}

// newApp opens the credential store and wires the session. The caller must
// Close the App.
func newApp(ctx context.Context, cc *CLIContext) (*App, error) {
	logger := cc.Logger

	store, err := credstore.Open(ctx, cc.Cfg.Credentials.Backend, cc.Cfg.Credentials.Path,
		cc.Cfg.Credentials.Watch, logger)
	if err != nil {
		return nil, err
	}

	// The unauthenticated base client performs refresh calls; the
	// coordinator then authenticates everything else through it.
	base := api.NewClient(cc.Cfg.API.BaseURL, cc.httpClient(), nil, logger, cc.userAgent())
	coord := session.NewCoordinator(store, base, logger)

	coord.OnExpired(func(err error) {
		logger.Warn("session expired, stored credentials cleared", slog.String("error", err.Error()))
	})

	client := base.WithAuthenticator(coord)

	logger.Debug("app wired",
		slog.String("api", cc.Cfg.API.BaseURL),
		slog.String("credentials_backend", cc.Cfg.Credentials.Backend),
	)

	return &App{
		Store:   store,
		Session: coord,
		Client:  client,
		Enroll:  enroll.NewMachine(client, coord, logger),
		Resumes: resume.NewManager(client, logger),
	}, nil
}

// Close releases the credential store.
func (a *App) Close() error {
	return a.Store.Close()
}

// withApp runs fn with a freshly wired App and closes it afterwards.
func withApp(ctx context.Context, cc *CLIContext, fn func(*App) error) error {
	app, err := newApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := app.Close(); cerr != nil {
			cc.Logger.Warn("closing credential store", slog.String("error", cerr.Error()))
		}
	}()

	return fn(app)
}
