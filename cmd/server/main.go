/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave lifecycle engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open the store (PostgreSQL when DATABASE_URL is set, SQLite otherwise)
  3. Build the working calendar from persisted holidays
  4. Wire the orchestrator (ledger, state machine, policy store, events)
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Close the store
  4. Exit

ENVIRONMENT:
  LEAVE_ADDR              Listen address (default :8080)
  DATABASE_URL            PostgreSQL URL; empty selects SQLite
  LEAVE_SQLITE_PATH       SQLite path (default leave.db, ":memory:" works)
  LEAVE_JWT_SECRET        HS256 secret; empty selects header identity
  LEAVE_ALLOWED_ORIGINS   Comma-separated CORS origins
  LEAVE_SHUTDOWN_TIMEOUT  e.g. "10s"

SEE ALSO:
  - config/config.go: Environment loading
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/engine"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

// backend is what both SQL stores provide to the wiring below.
type backend interface {
	Requests() engine.RequestStore
	Balances() engine.BalanceStore
	LeaveTypes() engine.LeaveTypeStore
	SaveHoliday(ctx context.Context, h engine.Holiday) error
	ListHolidays(ctx context.Context) ([]engine.Holiday, error)
	Close() error
}

type postgresBackend struct{ *postgres.Store }

func (b postgresBackend) Close() error {
	b.Store.Close()
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	var store backend
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		store = postgresBackend{pg}
		log.Printf("Using PostgreSQL store")
	} else {
		sq, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open SQLite database: %v", err)
		}
		store = sq
		log.Printf("Using SQLite store at %s", cfg.SQLitePath)
	}
	defer store.Close()

	holidays, err := store.ListHolidays(ctx)
	if err != nil {
		log.Fatalf("Failed to load holidays: %v", err)
	}
	holidayCal := engine.NewMemoryHolidayCalendar(holidays...)
	calendar := engine.NewWorkingCalendar(holidayCal)

	policies := engine.NewPolicyStore(nil)
	ledger := engine.NewBalanceLedger(store.Balances())

	events := engine.NewFanoutPublisher(func(ev engine.Event) {
		log.Printf("event %s request=%s employee=%s status=%s days=%s actor=%s",
			ev.Type, ev.RequestID, ev.EmployeeID, ev.Status, ev.WorkingDays, ev.Actor)
	})

	orchestrator := engine.NewOrchestrator(
		store.Requests(), store.LeaveTypes(), ledger, policies, calendar, events)

	handler := api.NewHandler(orchestrator, policies, store, holidayCal)
	router := api.NewRouter(handler, cfg.JWTSecret, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
