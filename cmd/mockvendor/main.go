// Command mockvendor serves stand-ins for the lightning feed, the radar
// metadata API and the storm polygon backend so the overlay can run locally
// without vendor credentials.
//
// Usage:
//
//	go run ./cmd/mockvendor -addr :9000 -lat 41.6938 -lng 44.8015
//
// then start the overlay with
//
//	SFERIC_FEED_URL=ws://localhost:9000/ws/ SFERIC_SUBSCRIPTION_KEY=dev \
//	SFERIC_API_BASE_URL=http://localhost:9000 BACKEND_BASE_URL=http://localhost:9000 \
//	go run ./cmd/overlay
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	lat := flag.Float64("lat", 41.6938, "latitude strikes and storms are centered on")
	lng := flag.Float64("lng", 44.8015, "longitude strikes and storms are centered on")
	flag.Parse()

	logger := sharedobs.NewLogger(os.Getenv("LOG_LEVEL"), "text")
	v := &vendor{
		origin: domain.Coordinate{Lat: *lat, Lng: *lng},
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}

	srv := &http.Server{Addr: *addr, Handler: v.routes(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("mock vendor listening", "addr", *addr, "origin", v.origin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
