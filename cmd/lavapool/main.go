package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fankserver/lavapool/internal/config"
	"github.com/fankserver/lavapool/internal/events"
	"github.com/fankserver/lavapool/internal/gateway"
	"github.com/fankserver/lavapool/internal/session"
	"github.com/fankserver/lavapool/pkg/catalog"
	"github.com/sirupsen/logrus"
)

var Token string

func init() {
	flag.StringVar(&Token, "token", "", "Discord Bot Token (overrides DISCORD_TOKEN)")
	flag.Parse()

	if Token != "" {
		if err := os.Setenv("DISCORD_TOKEN", Token); err != nil {
			logrus.WithError(err).Warn("Failed to apply -token flag")
		}
	}
}

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logrus.SetLevel(cfg.Level())

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	bridge, err := gateway.New(cfg.DiscordToken)
	if err != nil {
		logrus.WithError(err).Fatal("Error creating Discord bridge")
	}

	var catalogs []catalog.Resolver
	if cfg.DeezerEnabled {
		catalogs = append(catalogs, catalog.NewDeezer(cfg.Deezer()))
		logrus.Info("Deezer catalog enabled")
	}

	manager, err := session.NewManager(session.Options{
		Voice:         bridge.SendVoice,
		DefaultSearch: cfg.DefaultSearch,
		Catalogs:      catalogs,
		Autoplay:      cfg.Autoplay,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Error creating session manager")
	}
	bridge.Attach(manager)

	manager.Events().SubscribeAll(func(e events.Event) {
		logrus.WithFields(logrus.Fields{
			"event":    e.Type,
			"guild_id": e.GuildID,
			"node":     e.Node,
		}).Debug("Event")
	})

	// Nodes need the bot user id, which is only known once the gateway is ready
	var addNodes sync.Once
	bridge.OnReady(func(userID string) {
		addNodes.Do(func() {
			for _, opts := range cfg.NodeOptions(userID) {
				if _, err := manager.AddNode(opts); err != nil {
					logrus.WithError(err).WithField("node", opts.Key()).Error("Failed to add node")
					continue
				}
				logrus.WithField("node", opts.Key()).Info("Node added")
			}
		})
	})

	// Connect to Discord
	if err := bridge.Open(); err != nil {
		logrus.WithError(err).Fatal("Error connecting to Discord")
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close Discord session")
		}
	}()
	logrus.Info("Connected to Discord")

	// Wait for context cancellation
	logrus.Info("Running. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	// Players leave voice while the gateway is still open
	manager.Close()
}
