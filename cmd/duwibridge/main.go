// Duwi Bridge - dual-transport smart home state synchronization
//
// The bridge keeps one house's device state synchronized with the Duwi
// platform, preferring the vendor cloud and falling over to encrypted
// LAN multicast when the internet goes away. Device state is cached
// locally in SQLite and exposed to Home Assistant over MQTT, to
// dashboards over HTTP and to InfluxDB as time series.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/duwi2024/duwi-bridge/migrations"

	"github.com/duwi2024/duwi-bridge/internal/api"
	"github.com/duwi2024/duwi-bridge/internal/cloud"
	"github.com/duwi2024/duwi-bridge/internal/habridge"
	"github.com/duwi2024/duwi-bridge/internal/history"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/database"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/lan"
	"github.com/duwi2024/duwi-bridge/internal/registry"
	"github.com/duwi2024/duwi-bridge/internal/router"
	"github.com/duwi2024/duwi-bridge/internal/store"
	"github.com/duwi2024/duwi-bridge/internal/supervisor"
	"github.com/duwi2024/duwi-bridge/internal/wire"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting duwi bridge", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "house", cfg.House.HouseNo)

	// Local cache database.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	cache := store.New(db, log)

	// Cloud client and registry.
	client := cloud.NewClient(cfg.Cloud, cfg.House, log)
	client.OnTokenChange(func(info cloud.TokenInfo) {
		log.Info("access token rotated", "expires", info.AccessTokenExpireTime)
	})

	reg := registry.NewManager(cfg.House, cache, log)

	// LAN transport. Starting it before the bootstrap decision lets
	// heartbeats begin probing hosts immediately.
	transport := lan.NewTransport(cfg.LAN, log)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("starting lan transport: %w", err)
	}
	reg.SetHostProbe(transport.Hosts().IsOnline)
	transport.AddListener("registry", func(msg *wire.Message) {
		reg.HandleLANMessage(ctx, msg)
	})

	// Bootstrap from the cloud when reachable, from the cache when not.
	connected := false
	if resp, loginErr := client.Login(ctx); loginErr != nil {
		log.Warn("cloud login failed", "error", loginErr)
	} else if !resp.OK() {
		log.Warn("cloud rejected login", "code", resp.Code, "message", resp.Message)
	} else if bootErr := reg.BootstrapFromCloud(ctx, client); bootErr != nil {
		log.Warn("cloud bootstrap failed", "error", bootErr)
	} else {
		connected = true
	}
	if !connected {
		if cacheErr := reg.LoadFromCache(ctx); cacheErr != nil {
			return fmt.Errorf("no cloud and no usable cache: %w", cacheErr)
		}
		log.Info("running from cached state until cloud returns")
	}

	// Cloud push socket. The supervisor kicks it on mode changes, so
	// the run loop starts regardless of the bootstrap outcome.
	push := cloud.NewPush(client, log)
	push.AddListener("registry", func(event cloud.PushEvent) {
		reg.HandlePush(ctx, event)
	})
	push.Start(ctx)

	// Transport mode supervisor.
	sup := supervisor.New(cfg.House.EntryID, connected, reg, push, transport.Hosts(),
		func(ctx context.Context) error { return reg.ReconcilePass(ctx, client) }, log)
	go sup.Run(ctx)

	// Command router.
	rt := router.New(reg, client, transport, transport.Hosts(), log)

	// Home Assistant MQTT surface.
	if cfg.MQTT.Enabled {
		bridge, bridgeErr := habridge.NewBridge(cfg.MQTT, reg, rt, log)
		if bridgeErr != nil {
			return fmt.Errorf("connecting mqtt bridge: %w", bridgeErr)
		}
		bridge.Start()
		defer bridge.Stop()
	} else {
		log.Info("mqtt bridge disabled")
	}

	// Diagnostics API.
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Registry: reg,
			Hosts:    transport.Hosts(),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("building api server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting api server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing api server", "error", closeErr)
			}
		}()
	} else {
		log.Info("diagnostics api disabled")
	}

	// State history.
	if cfg.History.Enabled {
		recorder, histErr := history.Connect(cfg.History, log)
		if histErr != nil {
			return fmt.Errorf("connecting influxdb: %w", histErr)
		}
		reg.AddListener(recorder)
		defer recorder.Close()
	} else {
		log.Info("state history disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses the DUWI_CONFIG environment variable if set.
func getConfigPath() string {
	if path := os.Getenv("DUWI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
