package main

import (
	"context"
	"log"
	"time"

	"github.com/pkgsight/pkgsight/internal/analytics"
	"github.com/pkgsight/pkgsight/internal/config"
	"github.com/pkgsight/pkgsight/internal/httpserver"
	"github.com/pkgsight/pkgsight/internal/retention"
	"github.com/pkgsight/pkgsight/internal/store"
	"github.com/pkgsight/pkgsight/internal/tenant"
)

// main boots the service: config → DB → schema → jobs → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	resolver := tenant.NewResolver(db.Pool())
	repo := analytics.NewRepo(db.Pool())
	svc := analytics.NewService(repo, resolver, nil)
	enforcer := retention.NewEnforcer(db.Pool(), cfg.RetentionDays, nil)
	syncer := retention.NewSyncer(db.Pool(), nil)

	// Daily jobs: the free-tier retention sweep and the package-count sync.
	// Both report structured results; failures are logged, never fatal.
	go runDaily("retention sweep", func(ctx context.Context) {
		res := enforcer.Run(ctx)
		if !res.Success {
			log.Printf("retention sweep failed: %v", res.Errors)
		}
	})
	go runDaily("package sync", func(ctx context.Context) {
		res := syncer.Run(ctx)
		if len(res.Errors) > 0 {
			log.Printf("package sync errors: %v", res.Errors)
		}
	})

	router := httpserver.NewRouter(cfg, db, resolver, svc, enforcer, syncer)

	log.Printf("server started on %s", cfg.Addr)
	log.Fatal(router.Run(cfg.Addr))
}

// runDaily runs job immediately and then once every 24h.
func runDaily(name string, job func(context.Context)) {
	log.Printf("scheduling daily job: %s", name)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		job(context.Background())
		<-ticker.C
	}
}
