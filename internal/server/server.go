// Package server exposes the conversation over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"PromptChat/internal/chain"
	"PromptChat/internal/config"
	"PromptChat/internal/session"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Session is the conversation the handlers talk to.
type Session interface {
	Invoke(ctx context.Context, question string) (string, error)
	Stream(ctx context.Context, question string) (*chain.Stream, error)
	History(ctx context.Context) (session.Transcript, error)
	Reset(ctx context.Context) error
}

// Deps are the collaborators the router is built from.
type Deps struct {
	Session     Session
	Logger      *slog.Logger
	ServiceName string
	Version     string

	Stream         bool   // stream fragments instead of returning the whole answer
	Scope          string // config.ScopeShared or config.ScopeClient
	StaticDir      string // empty disables static files
	RateLimitRPS   float64
	RateLimitBurst int

	// BackendProbe reports whether the model server is reachable; nil skips the check.
	BackendProbe func(ctx context.Context) error
}

func SetGinMode(env string) {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
}

// New builds the router.
func New(dep Deps) *gin.Engine {
	if dep.Logger == nil {
		dep.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware(dep.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", RequestIDHeader, ConversationIDHeader},
		ExposeHeaders:   []string{RequestIDHeader, ConversationIDHeader},
	}))

	healthHandler := NewHealthHandler(dep.ServiceName, dep.Version, dep.BackendProbe)
	healthHandler.RegisterRoutes(r)

	api := r.Group("")
	if dep.RateLimitRPS > 0 {
		api.Use(RateLimitMiddleware(dep.RateLimitRPS, dep.RateLimitBurst))
	}
	api.Use(ConversationMiddleware(dep.Scope))

	promptHandler := NewPromptHandler(dep.Session, dep.Stream, dep.Logger)
	promptHandler.RegisterRoutes(api)

	if dep.StaticDir != "" {
		r.NoRoute(StaticHandler(dep.StaticDir))
	}

	return r
}

// conversationScoped reports whether scope gives every client its own memory.
func conversationScoped(scope string) bool {
	return scope == config.ScopeClient
}
