package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"contentcollab/backend/config"
	"contentcollab/backend/internal/cache"
	"contentcollab/backend/internal/collab"
	"contentcollab/backend/internal/httpapi/handlers"
	"contentcollab/backend/internal/httpapi/middleware"
	"contentcollab/backend/internal/store"
	"contentcollab/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := initConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("init config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("could not connect to redis")
	}
	defer rdb.Close()

	gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to mysql (gorm)")
	}

	sqlDB, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open mysql")
	}
	defer sqlDB.Close()

	// === Kafka producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to kafka")
	}
	defer producer.Close()

	kafkaSem := collab.NewSemaphoreControl(100)
	submitSem := collab.NewSemaphoreControl(cfg.Collab.MaxConcurrentSubmits)

	dispatcher := collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem, collab.KafkaDispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	contentStore := store.NewContentStore(gormDB)
	snapshotStore := store.NewSnapshotStore(sqlDB)
	userStore := store.NewUserStore(sqlDB)

	svc := collab.NewInMemoryService(contentStore, snapshotStore, dispatcher)

	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presence)

	heartbeatTTL := time.Duration(cfg.Collab.HeartbeatTTLSeconds) * time.Second
	manager := ws.NewManager(hub, svc, submitSem, userStore, heartbeatTTL)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rooms := handlers.NewRoomsHandler(svc, presence)

	collabGroup := r.Group("/collab")
	collabGroup.Use(middleware.AuthMiddleware(cfg.Auth.Secret))
	collabGroup.GET("/ws", manager.WebSocketConnect)
	collabGroup.GET("/rooms", rooms.ListActive)
	collabGroup.GET("/rooms/:contentId", rooms.GetRoom)
	collabGroup.GET("/rooms/:contentId/presence", rooms.GetPresence)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Running.Port).Msg("collab server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}
