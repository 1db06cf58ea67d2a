package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notifyhub/notifyhub/pkg/push"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate or show the server VAPID keypair",
	RunE:  runKeys,
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	keys, err := push.LoadOrGenerateVAPIDKeys(cfg.VAPIDKeyFile())
	if err != nil {
		return fmt.Errorf("failed to load VAPID keys: %w", err)
	}

	fmt.Printf("Public key: %s\n", keys.PublicKey)
	fmt.Printf("Key file:   %s\n", cfg.VAPIDKeyFile())
	return nil
}
