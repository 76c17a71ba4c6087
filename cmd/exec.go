package cmd

import (
	"log"

	"deskbook/calendar"
	"deskbook/config"
	"deskbook/handlers"
	_ "deskbook/migrations"
	"deskbook/security"
	"deskbook/services"
	"deskbook/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub (optional; no keys means no realtime sink)
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	} else {
		log.Println("PubNub keys not set, change notifications disabled")
	}

	policy := calendar.New(cfg.CutoffHour, cfg.Location())

	// Initialize services
	poolService := services.NewPoolService(cfg, policy)
	notifyService := services.NewNotifyService(pn)
	queryService := services.NewQueryService(app, redisClient, cfg, policy, poolService)
	allocService := services.NewAllocationService(app, cfg, policy, poolService, notifyService, queryService)
	specialService := services.NewSpecialDayService(app, policy, queryService, notifyService)

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(cfg, allocService, queryService)
	adminHandler := handlers.NewAdminHandler(app, allocService, specialService)

	limiter := security.NewRateLimiter(redisClient, cfg.BookingRateLimit, cfg.BookingRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Booking endpoints (mutations go through the rate limiter)
		e.Router.POST("/api/v1/bookings", limiter.BookingRateLimit(bookingHandler.Book))
		e.Router.POST("/api/v1/bookings/designated", limiter.BookingRateLimit(bookingHandler.BookDesignated))
		e.Router.POST("/api/v1/bookings/floating", limiter.BookingRateLimit(bookingHandler.BookFloating))
		e.Router.POST("/api/v1/bookings/release", limiter.BookingRateLimit(bookingHandler.Release))
		e.Router.GET("/api/v1/bookings/status", bookingHandler.Status)
		e.Router.GET("/api/v1/bookings/weekly", bookingHandler.Weekly)
		e.Router.GET("/api/v1/seats", bookingHandler.DailySeats)
		e.Router.GET("/api/v1/special-days", bookingHandler.SpecialDays)

		// Admin endpoints
		e.Router.POST("/api/v1/admin/bookings/override", adminHandler.BookOverride)
		e.Router.POST("/api/v1/admin/bookings/release", adminHandler.Release)
		e.Router.POST("/api/v1/admin/special-days", adminHandler.SetSpecialDay)
		e.Router.DELETE("/api/v1/admin/special-days/{date}", adminHandler.RemoveSpecialDay)
		e.Router.GET("/api/v1/admin/users", adminHandler.ListUsers)
		e.Router.PUT("/api/v1/admin/users/{id}/batch", adminHandler.UpdateUserBatch)

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

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		log.Println("Server routes registered")

		return e.Next()
	})

	return app.Start()
}
