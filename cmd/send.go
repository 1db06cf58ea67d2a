package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/notifyhub/notifyhub/pkg/notify"
)

var (
	sendServer string
	sendTitle  string
	sendBody   string
	sendURL    string
	sendType   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test notification through a running server",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendServer, "server", "s", "http://localhost:4000", "Server base URL")
	sendCmd.Flags().StringVarP(&sendTitle, "title", "t", "Test notification", "Notification title")
	sendCmd.Flags().StringVarP(&sendBody, "body", "b", "Notification system test. Working as expected.", "Notification body")
	sendCmd.Flags().StringVarP(&sendURL, "url", "u", "/", "Target URL opened on click")
	sendCmd.Flags().StringVar(&sendType, "type", "test", "Notification type")
}

func runSend(cmd *cobra.Command, args []string) error {
	req := notify.CreateRequest{
		Title: sendTitle,
		Body:  sendBody,
		Type:  sendType,
		Metadata: &notify.Metadata{
			URL: sendURL,
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Post(sendServer+"/api/notifications", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send rejected with status %d", resp.StatusCode)
	}

	var rec notify.NotificationRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Sent notification %s\n", rec.ID)
	return nil
}
