// Package embeddings turns text into vectors. Providers call Text
// Embeddings Inference over HTTP, the OpenAI embeddings API, or a local
// ONNX model through fastembed-go, and every provider checks that it
// returns one vector of the configured dimension per input.
package embeddings
