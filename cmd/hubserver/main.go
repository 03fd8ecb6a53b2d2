// Command hubserver runs the matchmaking/spectate WebSocket hub described
// by the internal/hub package: it wires config, logging, and storage, then
// serves the liveness and websocket endpoints until told to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/config"
	"github.com/Omezi42/anokoro-tcg-backend/internal/hub"
	"github.com/Omezi42/anokoro-tcg-backend/internal/logging"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	h := hub.New(st, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Liveness)
	mux.HandleFunc("/ws", h.HandleWebSocket)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	go func() {
		log.Info("hub server listening", zap.Int("port", cfg.Port), zap.String("database", cfg.DatabasePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}
