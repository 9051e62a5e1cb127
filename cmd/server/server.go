package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"matchbook/internal/engine"
	"matchbook/internal/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	eng := engine.New("AAPL")
	srv := wire.New("0.0.0.0", 9001, eng)
	eng.RegisterTradeObserver(srv.ReportTrade)

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("wire server exited")
			stop()
		}
	}()

	<-ctx.Done()
	srv.Shutdown()
}
