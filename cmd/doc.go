// Package cmd implements the command-line interface for statq. It provides
// a hierarchical command structure for running the server and interacting
// with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the statq server
//   - client: Commands for registering, running queries and fetching
//     dataset metadata
//   - util: Shared utilities for command-line processing and configuration
//     (internal use)
//
// See statq -help for a list of all commands.
package cmd
