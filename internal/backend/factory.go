package backend

import (
	"context"
	"fmt"

	"campuschain/internal/ledger/algod"
	"campuschain/internal/ledger/memory"
	"campuschain/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.WithComponent(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	case AlgodBackend, TreasuryBackend:
		return f.createNetworkBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	net := memory.NewNetwork()

	f.logger.InfoContext(ctx, "Initialized memory ledger", log.FieldBackend, MemoryBackend.String())

	return &BackendResult{
		Ledger:  memory.NewClient(net),
		Network: net,
	}, nil
}

func (f *DefaultFactory) createNetworkBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := algod.New(algod.Config{
		AlgodURL:      config.AlgodURL,
		AlgodToken:    config.AlgodToken,
		IndexerURL:    config.IndexerURL,
		IndexerToken:  config.IndexerToken,
		Timeout:       config.Timeout,
		ConfirmRounds: config.ConfirmRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s ledger: %w", config.Type, err)
	}

	f.logger.InfoContext(ctx, "Initialized network ledger",
		log.FieldBackend, config.Type.String(),
		"node", config.AlgodURL,
		"indexer", config.IndexerURL)

	return &BackendResult{
		Ledger: client,
	}, nil
}
