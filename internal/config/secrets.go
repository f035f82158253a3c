package config

import (
	"fmt"
	"os"
)

// Secrets holds the environment-sourced credentials named in §6.7. They are
// never part of the JSON configuration document.
type Secrets struct {
	EmbeddingAPIKey   string
	LLMAPIKey         string
	VisionAPIKey      string
	StorageURL        string
	StorageAnonKey    string
	StorageServiceKey string
	DatabaseURL       string
	NotificationAPIKey string
}

// requiredSecretKeys are the environment variables whose absence is a fatal
// startup error (§6.7).
var requiredSecretKeys = []string{
	"EMBEDDING_API_KEY",
	"LLM_API_KEY",
	"VISION_API_KEY",
	"STORAGE_URL",
	"STORAGE_ANON_KEY",
	"STORAGE_SERVICE_KEY",
	"DATABASE_URL",
}

// LoadSecrets reads all secret environment variables, failing fatally if any
// required key is absent. NOTIFICATION_API_KEY is optional: notification
// failures are log-only and never fail the enclosing pipeline (§6.6).
func LoadSecrets() (Secrets, error) {
	var missing []string
	get := func(key string, required bool) string {
		v := os.Getenv(key)
		if v == "" && required {
			missing = append(missing, key)
		}
		return v
	}

	s := Secrets{
		EmbeddingAPIKey:    get("EMBEDDING_API_KEY", true),
		LLMAPIKey:          get("LLM_API_KEY", true),
		VisionAPIKey:       get("VISION_API_KEY", true),
		StorageURL:         get("STORAGE_URL", true),
		StorageAnonKey:     get("STORAGE_ANON_KEY", true),
		StorageServiceKey:  get("STORAGE_SERVICE_KEY", true),
		DatabaseURL:        get("DATABASE_URL", true),
		NotificationAPIKey: get("NOTIFICATION_API_KEY", false),
	}

	if len(missing) > 0 {
		return Secrets{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return s, nil
}
