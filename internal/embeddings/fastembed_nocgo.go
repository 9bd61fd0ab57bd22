//go:build !cgo

package embeddings

import (
	"errors"

	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned by builds without cgo, which cannot
// load the ONNX runtime.
var ErrFastEmbedNotAvailable = errors.New("fastembed: binary built without cgo, use the tei or openai provider")

// NewFastEmbedProvider always fails without cgo.
func NewFastEmbedProvider(cfg FastEmbedConfig, logger *zap.Logger) (Provider, error) {
	if logger != nil {
		logger.Warn("fastembed requested in a build without cgo", zap.String("model", cfg.Model))
	}
	return nil, ErrFastEmbedNotAvailable
}
