package types

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/chainlens/pkg/daemon"
	"github.com/canopy-network/chainlens/pkg/governor"
	"github.com/canopy-network/chainlens/pkg/history"
	"github.com/canopy-network/chainlens/pkg/redis"
	"go.uber.org/zap"
)

type App struct {
	Daemon   *daemon.Client
	Scanner  *history.Scanner
	Enricher *history.Enricher
	Governor *governor.Governor
	// Redis is optional; nil when the shared response cache is disabled.
	Redis *redis.Client
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
