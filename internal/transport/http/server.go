package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"zenocloud/internal/bootstrap"
	"zenocloud/internal/logger"
	"zenocloud/internal/transport/http/handler"
	"zenocloud/internal/transport/http/middleware"
)

type RouterDeps struct {
	ServiceName string
	JWTSecret   string
	CORSOrigins []string
	Log         *logger.Logger
	Health      *handler.HealthHandler
	Documents   *handler.DocumentHandler
	Queries     *handler.QueryHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)

	checks := make(map[string]handler.Pinger)
	for name, fn := range app.Health() {
		checks[name] = fn
	}

	return NewEngine(RouterDeps{
		ServiceName: app.Config.App.Name,
		JWTSecret:   app.Config.Auth.JWTSecret,
		CORSOrigins: app.Config.App.CORSOrigins,
		Log:         app.Log,
		Health:      handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks),
		Documents:   handler.NewDocumentHandler(app.Documents),
		Queries:     handler.NewQueryHandler(app.Queries),
	})
}

func NewEngine(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(d.ServiceName),
		middleware.RequestLogger(d.Log),
		middleware.CORS(d.CORSOrigins),
	)

	router.GET("/healthz", d.Health.Check)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(d.JWTSecret))

	files := v1.Group("/files")
	files.POST("", d.Documents.Upload)
	files.GET("", d.Documents.List)
	files.DELETE("/:id", d.Documents.Delete)
	files.GET("/:id/download", d.Documents.Download)

	v1.GET("/search", d.Queries.Search)

	query := v1.Group("/query")
	query.POST("", d.Queries.Query)
	query.POST("/summarize", d.Queries.Summarize)

	return router
}
