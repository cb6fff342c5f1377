package backend

import (
	"fmt"
	"strings"

	"campuschain/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.LedgerBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.LedgerBackend)
	}

	cfg := Config{
		Type:          backendType,
		AlgodURL:      appConfig.AlgodURL,
		AlgodToken:    appConfig.AlgodToken,
		IndexerURL:    appConfig.IndexerURL,
		IndexerToken:  appConfig.IndexerToken,
		Timeout:       appConfig.LedgerTimeout,
		ConfirmRounds: appConfig.ConfirmRounds,
	}
	if backendType == TreasuryBackend {
		cfg.AlgodURL = appConfig.TreasuryEndpoint
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type %q, want one of %s", c.Type, strings.Join(GetBackendTypeStrings(), ", "))
	}

	switch c.Type {
	case AlgodBackend, TreasuryBackend:
		if c.AlgodURL == "" {
			return fmt.Errorf("node URL is required for %s backend", c.Type)
		}
		if c.IndexerURL == "" {
			return fmt.Errorf("indexer URL is required for %s backend", c.Type)
		}
	case MemoryBackend:
		// Nothing to configure
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, AlgodBackend, TreasuryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}
