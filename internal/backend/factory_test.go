package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"campuschain/internal/config"
	"campuschain/internal/ledger/algod"
	"campuschain/internal/ledger/memory"
)

func TestFromAppConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantType  BackendType
		wantNode  string
		wantError bool
	}{
		{"nil config", nil, "", "", true},
		{"unknown backend", &config.Config{LedgerBackend: "ftp"}, "", "", true},
		{"memory", &config.Config{LedgerBackend: "memory"}, MemoryBackend, "", false},
		{
			name:     "algod keeps node URL",
			cfg:      &config.Config{LedgerBackend: "algod", AlgodURL: "https://node", TreasuryEndpoint: "https://treasury"},
			wantType: AlgodBackend,
			wantNode: "https://node",
		},
		{
			name:     "treasury uses treasury endpoint",
			cfg:      &config.Config{LedgerBackend: "treasury", AlgodURL: "https://node", TreasuryEndpoint: "https://treasury"},
			wantType: TreasuryBackend,
			wantNode: "https://treasury",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAppConfig(tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tt.wantType || got.AlgodURL != tt.wantNode {
				t.Errorf("got type=%s node=%q, want %s %q", got.Type, got.AlgodURL, tt.wantType, tt.wantNode)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"algod complete", Config{Type: AlgodBackend, AlgodURL: "https://n", IndexerURL: "https://i"}, false},
		{"algod without indexer", Config{Type: AlgodBackend, AlgodURL: "https://n"}, true},
		{"treasury without node", Config{Type: TreasuryBackend, IndexerURL: "https://i"}, true},
		{"invalid type", Config{Type: "sheets"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFactory_CreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := res.Ledger.(*memory.Client); !ok || res.Network == nil {
		t.Errorf("memory backend = %#v", res)
	}

	res, err = f.CreateBackend(ctx, Config{
		Type:       TreasuryBackend,
		AlgodURL:   "https://treasury.campus.example",
		IndexerURL: "https://indexer.campus.example",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("treasury backend: %v", err)
	}
	if _, ok := res.Ledger.(*algod.Client); !ok || res.Network != nil {
		t.Errorf("treasury backend = %#v", res)
	}

	if _, err := f.CreateBackend(ctx, Config{Type: "bogus"}); err == nil {
		t.Error("expected error for invalid backend")
	}
}

func TestConfig_ValidateListsBackends(t *testing.T) {
	err := Config{Type: "sheets"}.Validate()
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	for _, name := range []string{"memory", "algod", "treasury"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list %s", err, name)
		}
	}
}
