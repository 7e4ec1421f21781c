package httpserver

import (
	"context"
	"net/http"
	"time"

	"alarmd/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck 返回 nil 表示依赖就绪
type ReadinessCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	alarmHandler *AlarmHandler,
	jwtSecret string,
	checks map[string]ReadinessCheck,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), AccessLogMiddleware(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/alarms", RequirePermission(rbac.PermissionWriteAlarm), alarmHandler.Schedule)
		auth.GET("/alarms", RequirePermission(rbac.PermissionReadAlarm), alarmHandler.Pending)
		auth.GET("/alarms/history", RequirePermission(rbac.PermissionReadHistory), alarmHandler.History)
		auth.POST("/alarms/dismiss", RequirePermission(rbac.PermissionControlPresentation), alarmHandler.BroadcastDismiss)
		auth.DELETE("/alarms/:taskId", RequirePermission(rbac.PermissionWriteAlarm), alarmHandler.Cancel)

		auth.GET("/presentation", RequirePermission(rbac.PermissionReadAlarm), alarmHandler.Presentation)
		auth.POST("/presentation/dismiss", RequirePermission(rbac.PermissionControlPresentation), alarmHandler.DismissPresentation)
		auth.POST("/presentation/complete", RequirePermission(rbac.PermissionControlPresentation), alarmHandler.CompletePresentation)

		auth.PUT("/session", RequirePermission(rbac.PermissionWriteSession), alarmHandler.PutSession)
		auth.DELETE("/session", RequirePermission(rbac.PermissionWriteSession), alarmHandler.DeleteSession)
	}

	return &Router{Engine: r}
}
