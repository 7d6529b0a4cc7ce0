package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"

	"capitania.club/internal/backend"
	"capitania.club/internal/client"
	"capitania.club/internal/config"
	"capitania.club/internal/gate"
	"capitania.club/internal/obs"
)

// app carries what every command needs: settings, the remote client and
// where the session is persisted between invocations.
type app struct {
	envFile   string
	server    string
	tokenFile string
	verbose   bool

	cfg    *config.Config
	client *client.Client
	log    *charmlog.Logger
}

func (a *app) open() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.log = obs.Setup(obs.LogConfig{Level: level, Output: os.Stderr})

	if a.server == "" {
		a.server = cfg.Client.BaseURL
	}
	if a.tokenFile == "" {
		a.tokenFile = cfg.Client.TokenFile
	}
	if a.tokenFile == "" {
		a.tokenFile = defaultTokenFile()
	}

	c, err := client.New(client.Config{
		BaseURL:    a.server,
		Timeout:    cfg.Client.Timeout,
		RetryCount: 2,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	a.client = c

	s, err := loadSession(a.tokenFile)
	if err != nil {
		a.log.Warn("ignoring unreadable session file", "path", a.tokenFile, "err", err)
	}
	c.Restore(s)
	return nil
}

func (a *app) close() {
	if a.client == nil {
		return
	}
	if err := saveSession(a.tokenFile, a.client.Session()); err != nil {
		a.log.Warn("could not persist session", "path", a.tokenFile, "err", err)
	}
	a.client.Close()
}

// startGate runs the session gate against the remote client and waits for
// its first resolution.
func (a *app) startGate(ctx context.Context) (*gate.Gate, error) {
	opts := []gate.Option{gate.WithLogger(a.log), gate.WithFetchTimeout(a.cfg.Gate.FetchTimeout)}
	if a.cfg.Gate.FailOpen {
		opts = append(opts, gate.WithFailOpen())
	}
	g := gate.New(a.client, a.client, opts...)
	if err := g.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := g.WaitReady(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// settle waits for a steady snapshot newer than after.
func settle(ctx context.Context, g *gate.Gate, after uint64) (gate.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	updates := g.Watch(ctx)
	if snap := g.Current(); snap.Token > after && snap.State.Steady() {
		return snap, nil
	}
	for {
		select {
		case <-ctx.Done():
			return gate.Snapshot{}, fmt.Errorf("session did not settle: %w", ctx.Err())
		case snap, ok := <-updates:
			if !ok {
				return g.Current(), nil
			}
			if snap.Token > after && snap.State.Steady() {
				return snap, nil
			}
		}
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "capitania", "session.json")
}

func loadSession(path string) (*backend.Session, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s backend.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// saveSession writes s, or removes the file when there is no session.
func saveSession(path string, s *backend.Session) error {
	if s == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
