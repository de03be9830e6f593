package main

import (
	"context"
	"log"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/app/bootstrap"
)

func main() {
	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, "configs/default.yaml")
	if err != nil {
		log.Fatalf("identity-link-service bootstrap failed: %v", err)
	}
	if err := runtime.RunAPI(ctx); err != nil {
		log.Fatalf("identity-link-service api failed: %v", err)
	}
}
