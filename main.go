package main

import (
	"TuneSweep/cmd"
	"TuneSweep/config"
	"TuneSweep/logger"
)

func main() {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})
	defer logger.Sync()

	cmd.Execute()
}
