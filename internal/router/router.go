package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/handler"
	"github.com/stemsi/trivia-backend/internal/middleware"
	"github.com/stemsi/trivia-backend/internal/response"
)

// categoriesMaxAge is the client cache lifetime for the category list.
const categoriesMaxAge = 3600

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Quiz   *handler.QuizHandler
	WS     *handler.WSHandler
	Health *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// startLimiter guards quiz creation, which calls the upstream trivia API.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
	startLimiter *middleware.RateLimiter,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.Health.Health)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	authGroup := router.Group("/api/v1/auth")
	authGroup.Use(middleware.Timeout(cfg.RequestTimeout))
	{
		authGroup.POST("/register", handlers.Auth.Register)
		authGroup.POST("/login", handlers.Auth.Login)
		authGroup.GET("/me", middleware.RequireUserJWT(auth), handlers.Auth.Me)
	}

	// ─── 2. Quiz Group (JWT Protected) ─────────────────────────────────
	quiz := router.Group("/api/v1/quiz")
	quiz.Use(middleware.RequireUserJWT(auth), middleware.Timeout(cfg.RequestTimeout))
	{
		quiz.GET("/categories", middleware.CacheControl(categoriesMaxAge), handlers.Quiz.ListCategories)

		state := quiz.Group("")
		state.Use(middleware.NoStore())
		{
			state.POST("/start", startLimiter.PerUser(), handlers.Quiz.StartQuiz)
			state.GET("/sessions/:id", handlers.Quiz.GetSession)
			state.POST("/answer", handlers.Quiz.SubmitAnswer)
			state.PATCH("/sync", handlers.Quiz.SyncSession)
			state.POST("/complete", handlers.Quiz.CompleteQuiz)
			state.GET("/resume", handlers.Quiz.ResumeQuiz)
			state.GET("/history", handlers.Quiz.History)
			state.GET("/results/:id", handlers.Quiz.GetResult)
			state.GET("/stats", handlers.Quiz.GetStats)
		}
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireWSAuth(auth))
	{
		wsGroup.GET("/quiz/events", handlers.WS.QuizEvents)
	}

	return router
}
