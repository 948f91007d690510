// gambit is a server-authoritative online chess server. It accepts client
// connections over a line-framed JSON TCP protocol, authenticates players,
// pairs them through a rating-banded queue and arbitrates every game:
// move legality, clocks, terminal detection, ratings and persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/herohde/gambit/pkg/auth"
	"github.com/herohde/gambit/pkg/config"
	"github.com/herohde/gambit/pkg/server"
	"github.com/herohde/gambit/pkg/store"
	"github.com/seekerror/build"
	"github.com/seekerror/logw"
)

var version = build.NewVersion(1, 2, 0)

var (
	dev         = flag.Bool("dev", false, "Development mode: in-memory stores, ephemeral token secret, relaxed rate limit")
	development = flag.Bool("development", false, "Synonym for -dev")
	configPath  = flag.String("config", "", "Path to TOML configuration file")
	port        = flag.Int("port", 0, "Override Server.Port")
)

func init() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `usage: gambit [options]

GAMBIT is an authoritative online chess server.
Options:
`)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logw.Exitf(ctx, "Configuration failed: %v", err)
		}
		cfg = loaded
	}
	if *dev || *development {
		cfg.ApplyDevMode()
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logw.Exitf(ctx, "Invalid configuration: %v", err)
	}

	var players store.PlayerStore
	var sessions store.SessionStore
	var games store.GameStore

	if cfg.Database.UseInMemory {
		logw.Infof(ctx, "Using in-memory stores")
		players = store.NewMemoryPlayers()
		sessions = store.NewMemorySessions()
		games = store.NewMemoryGames()
	} else {
		db, err := store.OpenBadger(cfg.Database.Path)
		if err != nil {
			logw.Exitf(ctx, "Database failed: %v", err)
		}
		defer db.Close()

		logw.Infof(ctx, "Using database at %v", cfg.Database.Path)
		players = db.Players()
		sessions = db.Sessions()
		games = db.Games()
	}

	mgr := auth.NewSessions(sessions, []byte(cfg.Security.TokenSecret), cfg.Security.TokenExpiration(), cfg.Security.MaxSessionsPerPlayer)

	hub := server.New(ctx, cfg, "gambit", fmt.Sprintf("%v", version), players, mgr, games, cfg.Database.UseInMemory)

	logw.Infof(ctx, "Starting gambit %v", version)
	if err := hub.Run(ctx); err != nil {
		logw.Exitf(ctx, "Server failed: %v", err)
	}
	logw.Infof(ctx, "Shutdown complete")
}
