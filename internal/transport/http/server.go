package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"gophergpt-bot/internal/bootstrap"
	mysqlClient "gophergpt-bot/internal/platform/mysql"
	"gophergpt-bot/internal/transport/http/handler"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.HTTP.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, healthChecks(app))
	router.GET("/healthz", healthHandler.Check)

	var archive handler.ArchiveCounter
	if app.Transcripts != nil {
		archive = app.Transcripts
	}
	sessionHandler := handler.NewSessionHandler(app.Sessions, app.Tracker, archive)

	v1 := router.Group("/api/v1")
	v1.GET("/sessions/:chat_id", sessionHandler.Get)

	return router
}

func healthChecks(app *bootstrap.App) map[string]handler.Checker {
	checks := map[string]handler.Checker{
		"session_store": func(ctx context.Context) error {
			if p, ok := app.Store.(pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}
	}
	if app.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			return mysqlClient.Ping(ctx, app.MySQL)
		}
	}
	if app.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}
