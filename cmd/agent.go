package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notifyhub/notifyhub/pkg/history"
	"github.com/notifyhub/notifyhub/pkg/ipc"
	"github.com/notifyhub/notifyhub/pkg/notify"
	"github.com/notifyhub/notifyhub/pkg/push"
	"github.com/notifyhub/notifyhub/pkg/receiver"
)

var (
	agentListen    string
	agentSelfCheck bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the device-side background receiver",
	Long: "Run the background receiver with a local notification history. " +
		"Pushed payloads are accepted as plain POST bodies on the listen address, " +
		"which stands in for the platform push delivery channel during development",
	Run: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentListen, "listen", "l", "127.0.0.1:4100", "Address to accept pushed payloads on")
	agentCmd.Flags().BoolVar(&agentSelfCheck, "self-check", false, "Probe the push intake path on startup")
}

// terminalDisplayer surfaces notifications on the agent's terminal.
type terminalDisplayer struct{}

func (terminalDisplayer) Display(rec notify.NotificationRecord) error {
	log.Printf("NOTIFICATION [%s] %s: %s", rec.ID, rec.Title, rec.Body)
	return nil
}

// logRouter stands in for session navigation on a headless device.
type logRouter struct{}

func (logRouter) Route(url string) error {
	log.Printf("Routing session to %s", url)
	return nil
}

func runAgent(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store, err := history.Open(cfg.HistoryFile(), cfg.RetentionLimit)
	if err != nil {
		log.Fatalf("Failed to open notification history: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close history store: %v", err)
		}
	}()

	hub := ipc.NewHub()
	rcv := receiver.New(store, hub, terminalDisplayer{}, logRouter{})
	rcv.Activate()

	// Drain one mailbox so cross-context traffic is visible while no real
	// session is attached.
	mailbox := hub.Attach()
	defer mailbox.Close()
	go func() {
		for msg := range mailbox.Messages() {
			switch msg.Kind {
			case ipc.KindStored:
				log.Printf("Context message: notification %s stored", msg.Record.ID)
			case ipc.KindClicked:
				log.Printf("Context message: notification %s clicked", msg.NotificationID)
			case ipc.KindProbeReply:
				log.Printf("Context message: probe %s answered after %s", msg.ProbeID, msg.ReceivedAt.Sub(msg.SentAt))
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read payload", http.StatusBadRequest)
			return
		}
		if err := rcv.HandlePush(r.Context(), raw); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	httpServer := &http.Server{Addr: agentListen, Handler: mux}
	go func() {
		log.Printf("Agent accepting pushed payloads on %s", agentListen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Agent listener failed: %v", err)
		}
	}()

	if agentSelfCheck {
		go func() {
			// Let the listener come up before probing it.
			time.Sleep(200 * time.Millisecond)
			if err := selfCheck(hub, agentListen, cfg.ProbeTimeout()); err != nil {
				log.Printf("Push intake self-check failed: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Agent shutdown error: %v", err)
	}
}

// selfCheck pushes a connectivity probe through the agent's own intake
// endpoint and waits for the reply on the cross-context hub, exercising the
// full receive path end to end.
func selfCheck(hub *ipc.Hub, listen string, timeout time.Duration) error {
	prober := push.NewProber(timeout)
	mailbox := hub.Attach()
	defer mailbox.Close()

	probeID := prober.Begin()
	go func() {
		for msg := range mailbox.Messages() {
			if msg.Kind == ipc.KindProbeReply && prober.Observe(msg.ProbeID, msg.ReceivedAt) {
				return
			}
		}
	}()

	payload, err := json.Marshal(push.ProbePayload(probeID))
	if err != nil {
		return fmt.Errorf("marshaling probe payload: %w", err)
	}
	resp, err := http.Post("http://"+listen+"/", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting probe: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		log.Printf("Failed to close probe response body: %v", err)
	}

	reply, err := prober.Wait(context.Background())
	if err != nil {
		return err
	}
	log.Printf("Push intake self-check ok: probe %s answered in %s", reply.ProbeID, reply.ReceivedAt.Sub(reply.SentAt))
	return nil
}
