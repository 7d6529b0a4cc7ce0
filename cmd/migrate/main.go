package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"capitania.club/internal/config"
	"capitania.club/internal/migrate"
	"capitania.club/internal/obs"
)

func main() {
	log := obs.Setup(obs.LogConfig{Level: "info"})
	var (
		envFile = flag.String("env", ".env", "optional dotenv file")
		dsn     = flag.String("dsn", "", "PostgreSQL DSN (default from CAPITANIA_DATABASE_DSN)")
		dir     = flag.String("dir", "", "read migrations/ and seeds/ from this directory instead of the embedded set")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}
	if *dsn == "" {
		cfg, err := config.Load(*envFile)
		if err != nil {
			log.Fatal("config", "err", err)
		}
		*dsn = cfg.Database.DSN
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CAPITANIA_DATABASE_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", "err", err)
	}
	defer db.Close()

	var mgr *migrate.Manager
	if *dir != "" {
		mgr = migrate.NewManager(db, os.DirFS(*dir), migrate.WithDirs("migrations", "seeds"), migrate.WithLogger(log))
	} else {
		mgr = migrate.NewManager(db, nil, migrate.WithLogger(log))
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status", "pending":
		var items []string
		if flag.Arg(0) == "status" {
			items, err = mgr.Status(ctx)
		} else {
			items, err = mgr.Pending(ctx)
		}
		if err == nil {
			for _, item := range items {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal("unknown command", "command", flag.Arg(0))
	}
	if err != nil {
		log.Fatal("migrate failed", "command", flag.Arg(0), "err", err)
	}
}
