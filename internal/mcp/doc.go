// Package mcp exposes the vault search and reasoning engine as MCP tools.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) over the
// stdio transport. Tool arguments are clamped to their allowed ranges rather
// than rejected, and every result is returned as indented JSON text. Failed
// calls come back as IsError results with a readable message.
package mcp
