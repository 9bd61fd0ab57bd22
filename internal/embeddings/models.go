package embeddings

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model. Default: BAAI/bge-small-en-v1.5
	Model string

	// CacheDir holds downloaded model files.
	// Default: ./local_cache
	CacheDir string

	// MaxLength is the maximum input sequence length. Default: 512
	MaxLength int

	// BatchSize is passed to PassageEmbed. Default: 256
	BatchSize int
}

// knownDimensions lists output sizes of the local models fastembed serves.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

func fastEmbedModelDimension(model string) (int, bool) {
	dim, ok := knownDimensions[model]
	return dim, ok
}
