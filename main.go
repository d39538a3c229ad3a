package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ssiegel/grocy-station/internal/api"
	"github.com/ssiegel/grocy-station/internal/config"
	"github.com/ssiegel/grocy-station/internal/database"
	"github.com/ssiegel/grocy-station/internal/models"
	"github.com/ssiegel/grocy-station/internal/services"
	"github.com/ssiegel/grocy-station/internal/utils"
)

func main() {
	// .env is optional; production sets the environment directly
	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env file not found, using system environment")
	} else {
		log.Printf("✅ Environment loaded from .env file")
	}

	cfg := config.Load()
	log.Printf("📋 Grocy API: %s", cfg.GrocyBaseURL)

	// booking journal: PostgreSQL when configured, process memory otherwise
	var journal services.BookingJournal = services.NewMemoryBookingJournal()
	if cfg.DatabaseURL != "" {
		log.Printf("📋 DATABASE_URL set: %s", redactURL(cfg.DatabaseURL))
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Printf("❌ PostgreSQL connection failed: %v", err)
			log.Printf("⚠️ Continuing with in-memory booking journal")
		} else {
			defer database.ClosePostgres(db)
			if err := models.AutoMigrate(db); err != nil {
				log.Printf("⚠️ Continuing with in-memory booking journal")
			} else {
				journal = services.NewGormBookingJournal(db)
			}
		}
	} else {
		log.Printf("⚠️ DATABASE_URL not set, undo history is kept in memory")
	}

	// cache snapshots: Redis when configured
	cacheCfg := services.ObjectCacheConfig{
		TTL:         cfg.ObjectTTL,
		MinInterval: cfg.ObjectMinInterval,
	}
	var redisUtil *utils.RedisClient
	if cfg.RedisEnabled() {
		redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (continuing without cache snapshots)", err)
		} else {
			defer database.CloseRedis(redisClient)
			redisUtil = utils.NewRedisClient(redisClient)
			cacheCfg.Store = redisUtil
		}
	}

	grocy := services.NewGrocyClient(cfg.GrocyBaseURL, cfg.GrocyAPIKey, cfg.APITimeout)
	refs := services.NewReferenceData(grocy, cacheCfg)
	defer refs.Close()

	station := services.NewStation(grocy, refs, journal, services.StationConfig{
		ShoppingListID:     cfg.ShoppingListID,
		PollInterval:       cfg.PollInterval,
		ErrorRevertDelay:   cfg.ErrorRevertDelay,
		ProgressResetDelay: cfg.ProgressResetDelay,
	})

	var feed api.ScanFeed
	if cfg.KafkaBrokers != "" {
		log.Printf("📡 KAFKA_BROKERS set: %s, scans are read from Kafka", cfg.KafkaBrokers)
		feed = api.NewKafkaFeed(api.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			GroupID:  cfg.KafkaGroupID,
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
			CACert:   cfg.KafkaCACert,
		}, station)
	} else {
		feed = api.NewMQTTFeed(api.MQTTConfig{
			BrokerURL: cfg.BrokerURL,
			Topic:     cfg.Topic,
			ClientID:  cfg.MQTTClientID,
		}, station)
	}

	hub := api.NewHub()
	var pinger api.Pinger
	if redisUtil != nil {
		pinger = redisUtil
	}
	controller := api.NewKioskController(station, hub, feed, pinger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Printf("🌐 %s %s - Status: %d - Latency: %v", method, path, c.Writer.Status(), time.Since(start))
	})
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	controller.SetupRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	shutdownCtx, shutdownCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer shutdownCancel()

	errGrp, ctx := errgroup.WithContext(shutdownCtx)

	errGrp.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	errGrp.Go(func() error {
		refs.Warm(ctx)
		return nil
	})
	errGrp.Go(func() error {
		return feed.Run(ctx)
	})
	errGrp.Go(func() error {
		station.Run(ctx)
		return nil
	})
	if cfg.GRPCPort != "" {
		healthSrv := api.NewHealthServer(feed)
		errGrp.Go(func() error {
			return healthSrv.Run(ctx, cfg.GRPCPort)
		})
	}
	errGrp.Go(func() error {
		log.Printf("🚀 Server starting on port %s", cfg.ServerPort)
		log.Printf("📡 API available at http://0.0.0.0:%s/api/v1", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	errGrp.Go(func() error {
		<-ctx.Done()
		log.Println("🛑 Shutting down...")
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			return fmt.Errorf("server failed to shut down gracefully: %w", err)
		}
		return nil
	})

	if err := errGrp.Wait(); err != nil {
		log.Printf("❌ %v", err)
	}
	log.Println("✅ Server stopped")
}

// redactURL hides the credentials of a connection URL
func redactURL(raw string) string {
	idx := strings.Index(raw, "@")
	schemeIdx := strings.Index(raw, "://")
	if idx > 0 && schemeIdx > 0 && schemeIdx < idx {
		return raw[:schemeIdx+3] + "***@" + raw[idx+1:]
	}
	return raw
}
