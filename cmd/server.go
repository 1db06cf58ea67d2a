package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notifyhub/notifyhub/pkg/bus"
	"github.com/notifyhub/notifyhub/pkg/push"
	"github.com/notifyhub/notifyhub/pkg/registry"
	"github.com/notifyhub/notifyhub/pkg/server"
)

var serverPort string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the notifyhub server",
	Long:  "Start the HTTP server that registers push subscriptions, creates notifications, and fans them out to live streams and push endpoints",
	Run:   runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverPort, "port", "p", "", "Port to listen on (overrides config)")
	if err := viper.BindPFlag("port", serverCmd.Flags().Lookup("port")); err != nil {
		log.Printf("Failed to bind port flag: %v", err)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if serverPort != "" {
		cfg.Port = serverPort
	}

	keys, err := push.LoadOrGenerateVAPIDKeys(cfg.VAPIDKeyFile())
	if err != nil {
		log.Fatalf("Failed to load VAPID keys: %v", err)
	}

	reg := registry.New(cfg.SubscriptionFile())
	sender := push.NewWebPushSender(keys, cfg.VAPIDContact, push.Options{})
	dispatcher := push.NewDispatcher(reg, sender, cfg.PushTimeout())
	eventBus := bus.New()

	srv := server.New(cfg, reg, dispatcher, eventBus, keys)

	go func() {
		log.Printf("Starting notifyhub on port %s", cfg.Port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Printf("Server shutdown complete")
}
