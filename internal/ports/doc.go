// Package ports defines the interfaces that connect the eventship core to
// infrastructure adapters.
//
// The core packages (internal/conn, internal/batch, ...) depend only on
// these interfaces. Concrete implementations live in the adapter files
// (gorilla/websocket dialer, zerolog logger) so that the core can be tested
// with in-memory fakes and hosts can substitute their own transport.
//
//   - [Logger]: structured logging abstraction (alias of pkg/log)
//   - [StreamDialer]: opens one streaming connection to the platform
//   - [StreamConn]: a live bidirectional text-message stream
package ports
