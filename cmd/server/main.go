package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomrelay/internal/api"
	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	config, err := server.NewConfigFromEnv()
	if err != nil {
		logger.Init("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init(config.LogLevel)
	log.Info("starting roomrelay", "port", config.Port, "db", config.DatabasePath)

	db, err := store.Open(config.DatabasePath, config.DatabaseDebug)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	repo := store.NewRepository(db, store.NewPasswordHasher(store.DefaultBcryptCost))

	relay := server.NewRelay(*config, repo,
		server.WithMembershipChecker(repo),
		server.WithLogger(log))
	relay.Start(context.Background())

	mux := server.SetupRoutes(relay)
	api.NewHandler(repo, log.With("component", "api")).Register(mux)

	httpServer := server.CreateServer(config.Port, relay.CORS(mux))
	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Error("HTTP server failed", "error", err)
			_ = store.Close(db)
			os.Exit(1)
		}
	}()

	// One operation so the steps run in order: stop accepting requests, close
	// the WebSocket sessions (which flushes their logouts to the store), then
	// close the database.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomrelay": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				budget := shutdownTimeout
				if deadline, ok := ctx.Deadline(); ok {
					budget = time.Until(deadline)
				}
				return errors.Join(
					server.ShutdownServer(httpServer, budget/2),
					relay.Shutdown(budget/2),
					store.Close(db),
				)
			},
		},
	)

	exitCode := <-wait
	slog.Info("roomrelay exited", "code", exitCode)
	os.Exit(exitCode)
}
