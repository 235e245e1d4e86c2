package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"concert-tickets/config"
	"concert-tickets/handlers"
	"concert-tickets/models"
	"concert-tickets/monitoring"
	"concert-tickets/security"
	"concert-tickets/services"
	"concert-tickets/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub; order notifications are skipped without keys
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		pn = pubnub.NewPubNub(pnConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services. The ledger and catalog need the bootstrapped
	// database, so they are built in OnServe.
	inventory := services.NewRedisInventoryStore(redisClient, cfg.StoreMaxRetries, cfg.StoreRetryBackoff, cfg.StoreTimeout)
	releases := services.NewRedisReleaseQueue(redisClient)

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient)
		go serveMetrics(cfg.MetricsPort)
	}

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		ledger := services.NewDBOrderLedger(app.DB())
		catalog := services.NewDBConcertCatalog(app.DB())

		reservation := services.NewReservationService(inventory, ledger, catalog, releases).
			WithMonitor(monitor).
			WithPubNub(pn)

		syncConcertStockToRedis(app, ledger, inventory)

		// Settle release obligations left over from a previous run, then
		// keep draining in the background.
		worker := services.NewReleaseWorker(inventory, catalog, releases, cfg.ReleaseWorkerInterval).
			WithMaxAttempts(cfg.ReleaseMaxAttempts)
		worker.DrainOnce(ctx)
		worker.Start()

		app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
			worker.Stop()
			return te.Next()
		})

		orderHandler := handlers.NewOrderHandler(app, reservation)
		rateLimiter := security.NewRateLimiter(redisClient, cfg.PurchaseRateLimit, cfg.PurchaseRateWindow)

		// Order endpoints
		e.Router.POST("/api/v1/orders/purchase", orderHandler.PurchaseTickets).
			BindFunc(rateLimiter.AntiBotMiddleware()).
			BindFunc(rateLimiter.PurchaseRateLimit())
		e.Router.POST("/api/v1/orders/{orderId}/cancel", orderHandler.CancelOrder)
		e.Router.GET("/api/v1/orders", orderHandler.GetOrderHistory)

		// Stock endpoints
		e.Router.GET("/api/v1/concerts/{concertId}/stock", orderHandler.GetConcertStock)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupConcertHooks(app, inventory)

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// syncConcertStockToRedis seeds stock keys for published concerts. Remaining
// is recomputed from the ledger (total minus every active order's quantity)
// rather than read from a stored column, and it only lands for concerts Redis
// has never seen, so reservations made before a restart survive it.
func syncConcertStockToRedis(app *pocketbase.PocketBase, ledger services.OrderLedger, inventory services.InventoryStore) {
	ctx := context.Background()

	var rows []struct {
		ID           string `db:"id"`
		TicketsTotal int64  `db:"tickets_total"`
	}
	if err := app.DB().NewQuery(
		"SELECT id, tickets_total FROM concerts WHERE status = 'published'",
	).All(&rows); err != nil {
		log.Printf("Error fetching published concerts: %v", err)
		return
	}

	reserved, err := ledger.ActiveReservedByConcert(ctx)
	if err != nil {
		log.Printf("Error summing active orders: %v", err)
		return
	}

	seeded := 0
	for _, row := range rows {
		remaining := row.TicketsTotal - reserved[row.ID]
		if remaining < 0 {
			remaining = 0
		}
		stock := models.ConcertStock{
			ConcertID: row.ID,
			Total:     row.TicketsTotal,
			Remaining: remaining,
		}
		if err := inventory.SeedStock(ctx, stock); err != nil {
			log.Printf("Error seeding stock for concert %s: %v", row.ID, err)
			continue
		}
		seeded++
	}

	log.Printf("Seeded stock for %d published concerts", seeded)
}

// reconcileConcertStock keeps the stock key aligned with a concert's publish
// state. Only published concerts carry a key; anything else is removed so a
// draft can never be reserved against. For published concerts SeedStock
// refreshes the total only, leaving an existing remaining count untouched.
func reconcileConcertStock(ctx context.Context, inventory services.InventoryStore, concertID, concertStatus string, total int64) error {
	if concertStatus != "published" {
		return inventory.RemoveStock(ctx, concertID)
	}
	return inventory.SeedStock(ctx, models.ConcertStock{
		ConcertID: concertID,
		Total:     total,
		Remaining: total,
	})
}

func setupConcertHooks(app *pocketbase.PocketBase, inventory services.InventoryStore) {
	// Newly published concerts get their full allocation as remaining stock.
	app.OnRecordCreateRequest("concerts").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}

		if e.Record.GetString("status") != "published" {
			return nil
		}

		total := int64(e.Record.GetInt("tickets_total"))
		err := reconcileConcertStock(e.Request.Context(), inventory, e.Record.Id, "published", total)
		if err != nil {
			// Don't block the request if the stock seed fails; the startup
			// sync will pick the concert up on the next restart.
			slog.Error("Failed to seed stock for new concert",
				"concertID", e.Record.Id,
				"error", err,
			)
			return nil
		}
		slog.Info("Seeded stock for new concert", "concertID", e.Record.Id, "total", total)
		return nil
	})

	// Publishing via update seeds the key; updates to drafts must not, and
	// leaving the published state takes the concert off sale.
	app.OnRecordUpdateRequest("concerts").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}

		total := int64(e.Record.GetInt("tickets_total"))
		err := reconcileConcertStock(e.Request.Context(), inventory, e.Record.Id, e.Record.GetString("status"), total)
		if err != nil {
			slog.Error("Failed to reconcile stock after concert update",
				"concertID", e.Record.Id,
				"error", err,
			)
		}
		return nil
	})

	app.OnRecordDeleteRequest("concerts").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}

		if err := inventory.RemoveStock(e.Request.Context(), e.Record.Id); err != nil {
			slog.Error("Failed to remove stock for deleted concert",
				"concertID", e.Record.Id,
				"error", err,
			)
		}
		return nil
	})
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics server listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server error: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
