package router

import (
	"time"

	"ledger/api"
	"ledger/config"
	_ "ledger/docs"
	"ledger/events"
	"ledger/middleware"
	"ledger/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// Deps 路由依赖
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	// Hub 为 SSE 订阅中心；Publisher 为额外的事件出口（如 AMQP），均可为 nil
	Hub       *events.Hub
	Publisher events.Publisher
}

// SetupRouter 设置路由
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config

	// 设置运行模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.Use(middleware.RequestID())
	r.Use(CORSMiddleware())

	publishers := events.Multi{}
	if deps.Hub != nil {
		publishers = append(publishers, deps.Hub)
	}
	if deps.Publisher != nil {
		publishers = append(publishers, deps.Publisher)
	}

	lookups := service.NewLookupService(deps.DB, cfg.Lookup.OnDuplicate)
	entries := service.NewEntryService(deps.DB, lookups, publishers)
	email := service.NewEmailService(&cfg.Email)

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		// 认证相关路由（无需登录）
		authHandler := api.NewAuthHandler(deps.DB, cfg)
		auth := v1.Group("/auth")
		auth.Use(middleware.LoginRateLimit(10, time.Minute))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// 需要 JWT 认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth())
		{
			authorized.GET("/auth/profile", authHandler.GetProfile)

			lookupHandler := api.NewLookupHandler(lookups)
			authorized.GET("/categories", lookupHandler.ListCategories)
			authorized.POST("/categories", lookupHandler.ResolveCategory)
			authorized.GET("/stores", lookupHandler.ListStores)
			authorized.POST("/stores", lookupHandler.ResolveStore)

			entryHandler := api.NewEntryHandler(entries, deps.Hub)
			entryGroup := authorized.Group("/entries")
			{
				entryGroup.POST("", entryHandler.Create)
				entryGroup.GET("", entryHandler.List)
				entryGroup.GET("/summary", entryHandler.Summary)
				entryGroup.GET("/stream", entryHandler.Stream)
				entryGroup.DELETE("/:id", entryHandler.Delete)
			}

			exportHandler := api.NewExportHandler(deps.DB, entries, email)
			export := authorized.Group("/export")
			{
				export.GET("/csv", exportHandler.ExportCSV)
				export.GET("/json", exportHandler.ExportJSON)
				export.GET("/excel", exportHandler.ExportExcel)
				export.POST("/email", exportHandler.EmailReport)
			}
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return r
}

// CORSMiddleware CORS 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
