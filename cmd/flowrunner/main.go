package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/flowrunner/internal/bootstrap"
	"github.com/lyzr/flowrunner/internal/bridge"
	"github.com/lyzr/flowrunner/internal/definition"
	"github.com/lyzr/flowrunner/internal/executor"
	"github.com/lyzr/flowrunner/internal/httpapi"
	"github.com/lyzr/flowrunner/internal/httpserver"
	"github.com/lyzr/flowrunner/internal/promptprovider"
	"github.com/lyzr/flowrunner/internal/redisclient"
	"github.com/lyzr/flowrunner/internal/workflow"
	"github.com/lyzr/flowrunner/internal/wsfanout"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "flowrunner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap flowrunner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	redisConn, err := connectRedis(ctx, components.Logger)
	if err != nil {
		components.Logger.Warn("redis unavailable, user-input requests will not survive a restart", "error", err)
		redisConn = nil
	}

	hub := wsfanout.NewHub(components.Logger)
	go hub.Run()
	emitter := wsfanout.NewEmitter(hub, components.Logger)

	loader := definition.NewLoader(components.DB, components.Cache, components.Logger, components.Config.Cache.DefaultTTL)
	provider := promptprovider.NewHTTPProvider(os.Getenv("PROMPT_PROVIDER_URL"), components.Logger)
	userInputBridge := bridge.NewBridge(redisConn, emitter, components.Logger)

	engine := workflow.NewEngine(loader, workflow.RealClock{}, emitter, components.Logger,
		workflow.WithMaxLoopNesting(components.Config.Engine.MaxLoopNesting),
		workflow.WithDefaultMaxIterations(components.Config.Engine.DefaultMaxIterations),
		workflow.WithTelemetry(components.Telemetry),
	)
	executor.RegisterAll(engine, loader, components.Config.Engine.UserInputMaxRejects, components.Logger)

	e := setupEcho(components)
	handler := httpapi.NewHandler(engine, userInputBridge, hub, provider, components.Logger)
	handler.Register(e)

	srv := httpserver.New("flowrunner", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho(components *bootstrap.Components) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.GET("/health", echo.WrapHandler(httpserver.HealthHandler()))
	e.GET("/health/cache", func(c echo.Context) error {
		stats, ok := components.Cache.(interface{ Stats() map[string]interface{} })
		if !ok {
			return c.JSON(200, map[string]any{"stats": nil})
		}
		return c.JSON(200, stats.Stats())
	})
	return e
}

func connectRedis(ctx context.Context, log redisclient.Logger) (*redisclient.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password: getEnv("REDIS_PASSWORD", ""),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return redisclient.NewClient(client, log), nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
