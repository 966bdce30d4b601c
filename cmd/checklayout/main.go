package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	base := flag.String("ADDRESS", "http://127.0.0.1:3200", "server base url")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	c := NewChecker(*base, logger)
	if err := c.Setup(ctx); err != nil {
		logger.Sugar().Fatalw("setup", "err", err)
	}

	c.Go(ctx)
	c.Wait()
}
