package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	_ "github.com/lib/pq"
	"github.com/supabase-community/supabase-go"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
	"github.com/velvetgalaxy/go-swr-cache/metrics"
	"github.com/velvetgalaxy/go-swr-cache/social"
	"github.com/velvetgalaxy/go-swr-cache/stores"
	"github.com/velvetgalaxy/go-swr-cache/stores/postgres"
)

func main() {
	ctx := context.Background()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// The durable tier opens lazily; if postgres is down we run
	// cache-less instead of failing.
	store := stores.NewLazy(func(ctx context.Context) (goswrcache.Store, error) {
		db, err := sql.Open("postgres", os.Getenv("CACHE_DATABASE_URL"))
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, db, &postgres.Config{
			DeleteExpiredItems: true,
			Logger:             logger,
		})
	}, logger)

	client, err := supabase.NewClient(os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_ANON_KEY"), nil)
	if err != nil {
		panic(err)
	}

	metrics.Register()

	resolver := goswrcache.NewResolver(store, nil, nil, logger, metrics.NewObserver())
	defer resolver.Close()

	accessors := social.New(resolver, store, social.NewSupabaseQuerier(client, "media"))

	profile, err := accessors.Profile(ctx, os.Getenv("DEMO_PROFILE_ID"))
	if err != nil {
		panic(err)
	}
	if profile == nil {
		logger.Info("DEMO_PROFILE_ID not set, nothing to resolve")
		return
	}
	fmt.Printf("profile: %+v\n", profile)

	posts, err := accessors.Posts(ctx, social.PostFilter{AuthorID: profile.ID, Limit: 10})
	if err != nil {
		panic(err)
	}
	for _, p := range posts {
		fmt.Printf("post %s: %s\n", p.ID, p.Body)
	}

	<-ctx.Done()
}
