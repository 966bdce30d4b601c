package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"interleavedb/internal/config"
	"interleavedb/internal/schema"
	"interleavedb/internal/server"
	"interleavedb/internal/store"
)

func main() {
	logger, err := zap.NewDevelopment() // or NewProduction, or NewDevelopment
	if err != nil {
		log.Fatal(err)
	}
	sugar := logger.Sugar()

	conf := config.NewConfig()
	reg := schema.NewRegistry(logger)
	st, err := store.New(reg, conf, logger)
	if err != nil {
		sugar.Fatalw("store init", "err", err)
	}
	st.Use(store.ParentExists(), store.Audit(logger))

	s := server.NewServer(reg, st, conf, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	if conf.StoreInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(conf.StoreInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := st.SaveToDisk(gctx); err != nil {
						sugar.Errorw("periodic save", "err", err)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		sugar.Errorw("server stopped", "err", err)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.SaveToDisk(saveCtx); err != nil {
		sugar.Errorw("final save", "err", err)
	}
	sugar.Infow("bye")
}
