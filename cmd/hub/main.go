package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/life-stream-dev/life-stream-go-hub/internal/config"
	"github.com/life-stream-dev/life-stream-go-hub/internal/database"
	"github.com/life-stream-dev/life-stream-go-hub/internal/event"
	"github.com/life-stream-dev/life-stream-go-hub/internal/hub"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
	"github.com/life-stream-dev/life-stream-go-hub/internal/server"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		if errors.Is(err, config.ErrConfigCreated) {
			fmt.Println(err.Error())
			return
		}
		fmt.Fprintf(os.Stderr, "Error occured while reading config %v\n", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init(cfg.DebugMode, cfg.Log)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner(loggerCallback)

	fail := func(format string, v ...interface{}) {
		logger.FatalF(format, v...)
		_ = cleaner.Clean()
		os.Exit(1)
	}

	var store database.SessionStore
	if cfg.Database.Enabled {
		dbStore, err := database.ConnectDatabase(cfg.Database, cfg.AppName)
		if err != nil {
			fail("Error occured while initializing database, details: %v", err)
		}
		cleaner.Add(database.NewDBCloseCallback(dbStore))
		store = dbStore
	} else {
		logger.Info("Database disabled, keeping presence in memory")
		store = database.NewMemoryStore()
	}

	hubConfig, err := server.HubConfigFrom(cfg.Hub)
	if err != nil {
		fail("Invalid hub configuration, details: %v", err)
	}
	options, err := server.OptionsFrom(cfg.Hub)
	if err != nil {
		fail("Invalid hub configuration, details: %v", err)
	}

	h := hub.New(hubConfig, hub.WithStore(store))
	srv := server.NewServer(h, store, options)
	if err := srv.Start(); err != nil {
		fail("Error occured while starting server, details: %v", err)
	}
	cleaner.Add(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// serve loop died on its own
		<-srv.Done()
		cancel()
	}()
	if err := cleaner.Wait(ctx); err != nil {
		os.Exit(1)
	}
}
