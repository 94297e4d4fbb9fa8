package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
)

const (
	// HeaderActor 鉴权协作方注入的操作人
	HeaderActor = "X-Actor-ID"
	// HeaderRequestID 链路追踪 ID
	HeaderRequestID = "X-Request-ID"

	// CtxActor / CtxRequestID gin.Context 中的键
	CtxActor     = "actor"
	CtxRequestID = "request_id"
)

// RouteRegistrar 业务模块在 /api/v1 下注册自己的路由
type RouteRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

// Server 封装 HTTP 服务
type Server struct {
	engine *gin.Engine
	logger *zap.Logger
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer 初始化 HTTP Server (包含网关逻辑)
func NewServer(logger *zap.Logger, cfg config.ServerConfig, modules ...RouteRegistrar) *Server {
	// 1. 设置 Gin 模式
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()

	// ==========================================
	// 🏗️ Logical Gateway Layer (逻辑网关层)
	// ==========================================

	// 1. Recovery (防崩)
	r.Use(gin.Recovery())

	// 2. Request ID + Actor
	r.Use(RequestContext())

	// 3. Custom Logger (接入 Zap)
	r.Use(AccessLog(logger))

	// 4. CORS (跨域处理 - 允许前端访问)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Actor-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// ==========================================
	// 🚦 Routing Layer (路由分发)
	// ==========================================

	v1 := r.Group("/api/v1")
	{
		for _, m := range modules {
			m.RegisterRoutes(v1)
		}

		// 健康检查
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "UP"})
		})
	}

	return &Server{
		engine: r,
		logger: logger,
		cfg:    cfg,
		server: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// RequestContext 生成 / 透传 request id，并读取操作人
// 操作人缺失时置空，由业务层告警
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(CtxRequestID, rid)
		c.Writer.Header().Set(HeaderRequestID, rid)

		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		c.Set(CtxActor, actor)
		c.Next()
	}
}

// AccessLog 每个请求一条访问日志
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next() // 执行后续逻辑

		cost := time.Since(start)
		logger.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", cost),
			zap.String("request_id", c.GetString(CtxRequestID)),
			zap.String("actor", c.GetString(CtxActor)),
		)
	}
}

// Handler 暴露 http.Handler (测试使用)
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动服务，Shutdown 之后返回 nil
func (s *Server) Run() error {
	s.logger.Info("🚀 Settlement gateway started", zap.String("port", s.cfg.Port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅停机 (Graceful Shutdown)，可先于 Run 调用
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
