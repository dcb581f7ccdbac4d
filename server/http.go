package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aidevro/bugatube/auth"
	"github.com/aidevro/bugatube/config"
	"github.com/aidevro/bugatube/constant"
	"github.com/aidevro/bugatube/handler"
	"github.com/aidevro/bugatube/notifier"
	"github.com/aidevro/bugatube/pkg/rabbitmq"
	"github.com/aidevro/bugatube/queue"
	"github.com/aidevro/bugatube/repository"
	"github.com/aidevro/bugatube/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(cfg.Media.UploadsDir, os.ModePerm); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("dir", cfg.Media.UploadsDir).Msg("failed to create uploads directory")
		return
	}

	registry := queue.NewRegistry()
	verifier := auth.NewJWT(cfg.Auth.JWTSecret)

	hub := notifier.NewHub(verifier, registry, *zerolog.Ctx(ctx))
	go hub.Run(ctx)

	var events *rabbitmq.Publisher
	if cfg.Queue != nil {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			events, err = rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
			}
		}
	}

	repo := repository.NewRepo(cfg.DB)
	ingestService := service.NewService(ctx, cfg, registry, hub, repo, events)

	r := gin.Default()
	logger := zerolog.Ctx(ctx)
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	})
	addHealth(r)
	r.Static("/uploads", cfg.Media.UploadsDir)

	h := handler.New(ingestService, registry, repo, hub, cfg.Media.UploadsDir)
	h.Register(r, verifier)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := drain(&srv); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

const drainTimeout = 10 * time.Second

// drain shuts the server down on a fresh deadline; the signal context
// is already canceled by the time shutdown starts, and Shutdown with a
// dead context skips waiting for in-flight requests.
func drain(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
