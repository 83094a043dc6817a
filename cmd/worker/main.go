package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
)

// @title Safety Worker API
// @version 1.0.0
// @description Detection task worker: runs proximity, PPE and pallet detection over camera streams and records incidents
// @BasePath /
func main() {
	cfg := config.Load()

	if err := RootCommand(cfg).ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
