package backend

import (
	"context"
	"time"

	"campuschain/internal/ledger"
	"campuschain/internal/ledger/memory"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the ledger client and optional cleanup function
type BackendResult struct {
	Ledger ledger.Client
	// Network is set for the memory backend only, e.g. to mint test funds.
	Network *memory.Network
	Cleanup CleanupFunc
}

// Factory creates ledger backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Network backends
	AlgodURL      string
	AlgodToken    string
	IndexerURL    string
	IndexerToken  string
	Timeout       time.Duration
	ConfirmRounds int
}

// BackendType represents the type of ledger backend
type BackendType string

const (
	// MemoryBackend is an in-process ledger for development and tests.
	MemoryBackend BackendType = "memory"
	// AlgodBackend talks to a public algod node and indexer.
	AlgodBackend BackendType = "algod"
	// TreasuryBackend talks to the campus treasury node, which exposes the
	// same API as algod.
	TreasuryBackend BackendType = "treasury"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, AlgodBackend, TreasuryBackend:
		return true
	default:
		return false
	}
}
