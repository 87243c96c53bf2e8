package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"circlesave.backend/internal/interfaces/http/handlers"
	"circlesave.backend/internal/interfaces/http/middleware"
)

const (
	serviceName    = "circlesave-backend"
	serviceVersion = "0.1.0"
)

type routeDeps struct {
	circleHandler     *handlers.CircleHandler
	withdrawalHandler *handlers.WithdrawalHandler
	userHandler       *handlers.UserHandler
	authMiddleware    gin.HandlerFunc
	idempotency       gin.HandlerFunc
}

func applyCORSMiddleware(r *gin.Engine, frontendURL string) {
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{frontendURL},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			middleware.IdempotencyHeader, middleware.RequestIDHeader,
		},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "X-Idempotency-Hit"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

func registerHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"version": serviceVersion,
		})
	})
}

func registerMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	v1.Use(d.authMiddleware)
	{
		circles := v1.Group("/circles")
		{
			circles.POST("", d.circleHandler.CreateCircle)
			circles.GET("", d.circleHandler.ListCircles)
			circles.GET("/history", d.circleHandler.History)
			circles.GET("/:id", d.circleHandler.GetCircle)
			circles.POST("/:id/join", d.idempotency, d.circleHandler.JoinCircle)
			circles.POST("/:id/withdraw", d.idempotency, d.circleHandler.Withdraw)
			circles.GET("/:id/withdrawals", d.withdrawalHandler.ListCircleWithdrawals)
			circles.GET("/:id/activity", d.circleHandler.Activity)
		}

		withdrawals := v1.Group("/withdrawals")
		{
			withdrawals.GET("", d.withdrawalHandler.ListWithdrawals)
			withdrawals.POST("/:id/confirm", d.idempotency, d.withdrawalHandler.ConfirmWithdrawal)
		}

		users := v1.Group("/users")
		{
			users.GET("/me", d.userHandler.GetMe)
			users.PUT("/wallet", d.userHandler.LinkWallet)
		}
	}
}
