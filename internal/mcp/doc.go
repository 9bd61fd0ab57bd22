// Package mcp exposes ingestd over the Model Context Protocol.
//
// The server uses github.com/modelcontextprotocol/go-sdk/mcp on the stdio
// transport and calls the retrieval, table indexing and ingestion services
// directly. Tools are registered only for the services that are configured,
// and chunk text returned to clients passes through the secret redactor.
package mcp
