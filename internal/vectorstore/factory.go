package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

// NewService creates the backend selected by cfg.Provider:
//   - "chromem" (default): embedded, no external service
//   - "qdrant": remote Qdrant over gRPC
func NewService(cfg config.VectorStoreConfig, logger *zap.Logger) (Service, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemService(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)

	case "qdrant":
		return NewQdrantService(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
