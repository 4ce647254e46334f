package main

import (
	"context"

	"github.com/emrgen/storysync/internal/app"
	"github.com/emrgen/storysync/internal/config"
	"github.com/emrgen/storysync/internal/server"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	config.SetupLogging(cfg)
	logrus.SetLevel(logrus.DebugLevel)

	a, err := app.New(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	defer a.Close()

	if err := a.Start(context.Background()); err != nil {
		logrus.Error(err)
		return
	}

	err = server.NewServer(a, cfg.HTTPPort).Start()
	if err != nil {
		logrus.Error(err)
	}
}
