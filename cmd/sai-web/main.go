package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/middleware"
	"github.com/saiset-co/sai-web/sai"
	"github.com/saiset-co/sai-web/service"
	"github.com/saiset-co/sai-web/types"
)

func main() {
	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := "config.yml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	svc, err := service.NewService(mainCtx, configPath, middleware.Options{})
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		os.Exit(1)
	}

	err = svc.Router().Group("/api").
		GET("/routes", func(ctx *types.RequestCtx) error {
			routes := sai.Routes().Routes()
			out := make([]string, 0, len(routes))
			for _, r := range routes {
				out = append(out, r.Verb+" "+r.Path)
			}
			return ctx.JSON(http.StatusOK, out)
		}).
		Finalize()
	if err != nil {
		sai.Logger().Error("Failed to bind routes", zap.Error(err))
		os.Exit(1)
	}

	cfg := sai.Config().GetConfig()
	sai.Logger().Info("Starting service",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	if err := svc.Start(); err != nil {
		sai.Logger().Error("Failed to start service", zap.Error(err))
		os.Exit(1)
	}
}
