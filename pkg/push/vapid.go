package push

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/SherClockHolmes/webpush-go"
)

// VAPIDKeys is the server's Web Push signing keypair.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// LoadOrGenerateVAPIDKeys reads the keypair from path, generating and
// persisting a fresh one if the file does not exist. Subscriptions are bound
// to the public key, so the same pair must survive restarts.
func LoadOrGenerateVAPIDKeys(path string) (VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var keys VAPIDKeys
		if err := json.Unmarshal(data, &keys); err == nil && keys.PublicKey != "" && keys.PrivateKey != "" {
			return keys, nil
		}
		log.Printf("Warning: VAPID key file %s is unreadable, regenerating", path)
	} else if !os.IsNotExist(err) {
		return VAPIDKeys{}, fmt.Errorf("failed to read VAPID keys: %w", err)
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	keys := VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey}

	if err := saveVAPIDKeys(path, keys); err != nil {
		return VAPIDKeys{}, err
	}
	log.Printf("Generated new VAPID keypair at %s", path)
	return keys, nil
}

func saveVAPIDKeys(path string, keys VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal VAPID keys: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write VAPID keys: %w", err)
	}
	return os.Rename(tempFile, path)
}
