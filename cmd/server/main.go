package main

import (
	"homesnippets/internal/app/server"
	"homesnippets/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
