package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/loungenpark/PosProject-sub001/internal/config"
	"github.com/loungenpark/PosProject-sub001/internal/venue/db"
	"github.com/loungenpark/PosProject-sub001/internal/venue/finalize"
	"github.com/loungenpark/PosProject-sub001/internal/venue/handler"
	"github.com/loungenpark/PosProject-sub001/internal/venue/hub"
	"github.com/loungenpark/PosProject-sub001/internal/venue/ledger"
	"github.com/loungenpark/PosProject-sub001/internal/venue/store"
	pkgdb "github.com/loungenpark/PosProject-sub001/pkg/db"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
	"github.com/loungenpark/PosProject-sub001/pkg/rabbitmq"
)

const shutdownTimeout = 5 * time.Second

// Server is the venue's single authority: it hydrates the authoritative
// state from Postgres, serves the terminal synchronization channel and the
// request/response endpoints, and publishes print tickets.
type Server struct {
	port int
	cfg  *config.Config
	log  *logger.Logger

	dbPool     *pgxpool.Pool
	rabbitMQ   *rabbitmq.RabbitMQ
	hub        *hub.Hub
	httpServer *http.Server
}

func NewServer(port int, cfg *config.Config, log *logger.Logger) *Server {
	return &Server{port: port, cfg: cfg, log: log}
}

// Start connects the collaborators, hydrates state and serves until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	pool, err := pkgdb.ConnectDB(&s.cfg.Database, s.log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.dbPool = pool
	defer pool.Close()

	rmq, err := rabbitmq.ConnectRabbitMQ(&s.cfg.RabbitMQ, s.log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	s.rabbitMQ = rmq
	defer rmq.Close()

	venueDB := db.NewVenueDB(pool, s.log)
	if err := venueDB.EnsureSchema(ctx); err != nil {
		return err
	}

	tables, err := venueDB.LoadTables(ctx)
	if err != nil {
		return err
	}
	items, err := venueDB.LoadItems(ctx)
	if err != nil {
		return err
	}
	pools, err := venueDB.LoadPools(ctx)
	if err != nil {
		return err
	}
	s.log.Info("", "state_hydrated", fmt.Sprintf("Loaded %d tables, %d items, %d stock pools", len(tables), len(items), len(pools)))

	s.hub = hub.New(s.log)
	orderStore := store.New(venueDB, venueDB, s.hub, s.cfg.Venue.TaxRate, tables)
	stockLedger := ledger.New(venueDB, pools)
	finalizer := finalize.New(venueDB, orderStore, stockLedger, rmq, s.log, s.cfg.Venue.TaxRate, s.cfg.Venue.Currency)
	catalog := handler.NewCatalog(items)
	venueHandler := handler.NewVenueHandler(orderStore, stockLedger, finalizer, s.hub, catalog, s.log, s.cfg.Venue.TaxRate, s.cfg.Venue.Currency)

	s.hub.Bind(orderStore.Snapshot, func(frame models.IntentFrame) error {
		return orderStore.Apply(ctx, frame.TableID, frame.Order)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /bootstrap", venueHandler.Bootstrap)
	mux.HandleFunc("GET /ws", venueHandler.Connect)
	mux.HandleFunc("POST /sales", venueHandler.FinalizeSale)
	mux.HandleFunc("POST /stock/supply", venueHandler.Supply)
	mux.HandleFunc("POST /stock/waste", venueHandler.Waste)
	mux.HandleFunc("GET /stock", venueHandler.Stock)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.accessLog(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("", "server_started", fmt.Sprintf("Venue server started on port %d", s.port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("", "graceful_shutdown", "Shutting down venue server...")
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// accessLog wraps the mux so every request leaves one timing line.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.log.Debug("", "http_request", fmt.Sprintf("%s %s -> %d in %s", r.Method, r.URL.Path, m.Code, m.Duration))
	})
}
