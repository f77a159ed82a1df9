package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/auth"
	"github.com/ukydev/urban-services/internal/booking"
	"github.com/ukydev/urban-services/internal/config"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/handlers"
	"github.com/ukydev/urban-services/internal/hub"
	"github.com/ukydev/urban-services/internal/logging"
	"github.com/ukydev/urban-services/internal/metrics"
	"github.com/ukydev/urban-services/internal/middleware"
	"github.com/ukydev/urban-services/internal/models"
	"github.com/ukydev/urban-services/internal/partners"
)

// app is the wired server and the resources it must release.
type app struct {
	handler http.Handler
	hub     *hub.Hub
	limiter *middleware.RateLimiter
	stop    context.CancelFunc
	closers []func()
}

// Close drops sockets then releases backends in reverse order of opening.
func (a *app) Close() {
	if a.stop != nil {
		a.stop()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer closeStore()

	a, err := newApp(ctx, cfg, store, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown did not complete")
		}
	}()

	log.WithFields(logrus.Fields{"port": cfg.Server.Port, "storage": cfg.Storage.Driver}).Info("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("HTTP server failed")
	}
	log.Info("HTTP server stopped")
}

// newApp wires the booking core, the partner hub and the optional event
// sinks around store and returns the full HTTP handler chain.
func newApp(ctx context.Context, cfg *config.Config, store *db.Store, log logrus.FieldLogger) (*app, error) {
	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return nil, err
	}
	a := &app{}

	metrics.Register()
	bus := events.NewBus(log)
	directory := partners.NewDirectory(store.Users, store.Partners, log)
	bookings := booking.NewService(store, bus, log)

	a.hub = hub.New(cfg.WebSocket, authService, directory, bookings, log)
	bus.Subscribe("websocket", a.hub)

	if cfg.MQTT.Enabled {
		client, err := events.ConnectMQTT(cfg.MQTT)
		if err != nil {
			// Push to partner sockets still works without the broker.
			log.WithError(err).WithField("broker", cfg.MQTT.Broker).Warn("MQTT disabled")
		} else {
			bus.Subscribe("mqtt", events.NewMQTTSink(client, cfg.MQTT.TopicPrefix))
			a.closers = append(a.closers, func() { client.Disconnect(250) })
		}
	}
	if cfg.Redis.Enabled {
		client := events.NewRedisClient(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.WithError(err).WithField("address", cfg.Redis.Address).Warn("Redis event sink disabled")
			_ = client.Close()
		} else {
			bus.Subscribe("redis", events.NewRedisSink(client, cfg.Redis.Channel))
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	mux := http.NewServeMux()
	handlers.Routes{
		Auth:     handlers.NewAuthHandler(authService, store.Users, store.Partners, directory, log),
		Bookings: handlers.NewBookingHandler(bookings, directory, log),
		Partners: handlers.NewPartnerHandler(directory, log),
		Socket:   a.hub,
		Metrics:  metrics.Handler(),
	}.Register(mux)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit)
	var pruneCtx context.Context
	pruneCtx, a.stop = context.WithCancel(ctx)
	go a.limiter.Start(pruneCtx)
	a.handler = middleware.RequestLogger(log)(a.limiter.RateLimit(authMiddleware.Authenticate(mux)))
	return a, nil
}

// openStore connects the configured storage driver.
func openStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*db.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		store := db.NewMemoryStore()
		for _, s := range seedCatalog(store.Catalog.(*db.MemoryCatalog)) {
			log.WithFields(logrus.Fields{
				"category_id": s.CategoryID.Hex(),
				"service_id":  s.ID.Hex(),
				"service":     s.Name,
			}).Info("Seeded catalog service")
		}
		return store, func() {}, nil
	case "mongo", "":
		client, err := db.ConnectMongo(cfg.URI)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Connected to MongoDB")
		database := client.Database(cfg.Database)
		if err := db.EnsureIndexes(ctx, database); err != nil {
			log.WithError(err).Warn("Failed to ensure indexes")
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("MongoDB disconnect failed")
			}
		}
		return db.NewMongoStore(client, cfg.Database), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// seedCatalog gives the in-memory driver a small catalog to book against.
func seedCatalog(catalog *db.MemoryCatalog) []models.Service {
	seed := []struct {
		category string
		services []models.Service
	}{
		{"Cleaning", []models.Service{{Name: "Home deep clean", BasePrice: 1499, Duration: 180}, {Name: "Sofa cleaning", BasePrice: 599, Duration: 60}}},
		{"Plumbing", []models.Service{{Name: "Leak repair", BasePrice: 399, Duration: 45}}},
		{"Electrical", []models.Service{{Name: "Fan installation", BasePrice: 299, Duration: 30}}},
	}

	var seeded []models.Service
	for _, c := range seed {
		category := catalog.AddCategory(models.Category{Name: c.category})
		for _, s := range c.services {
			s.CategoryID = category.ID
			seeded = append(seeded, catalog.AddService(s))
		}
	}
	return seeded
}
