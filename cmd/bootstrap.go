package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/figsync/internal/actions"
	"github.com/figsync/internal/config"
	"github.com/figsync/internal/logging"
	"github.com/figsync/internal/outbox"
	"github.com/figsync/internal/remote"
	"github.com/figsync/internal/store"
	"github.com/figsync/internal/syncengine"
)

// app bundles the wired components every command works with.
type app struct {
	cfg     *config.Config
	store   *store.Store
	engine  *syncengine.Engine
	outbox  *outbox.Outbox
	actions *actions.Service
}

// bootstrap loads config, opens the store, and wires the sync core.
// The caller must close the returned app.
func bootstrap(c *cli.Context) (*app, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	client := remote.NewFigmaClient(cfg.Figma.BaseURL, cfg.Figma.Token, st)
	ob := outbox.New(st, client, cfg.Agent.ReplyPrefix)
	engine := syncengine.New(st, client, ob, cfg.Agent.ReplyPrefix)
	svc := actions.NewService(st, ob)

	return &app{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		outbox:  ob,
		actions: svc,
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}
