// Package transport carries A2A frames over persistent bidirectional
// connections.
//
// Three implementations share the Conn interface:
//   - WebSocket text frames (DialWebSocket, UpgradeWebSocket)
//   - a gRPC bidirectional stream, /a2ahub.Broker/Connect, whose messages are
//     google.protobuf.StringValue wrappers around the JSON text (DialGRPC,
//     RegisterGRPCBroker)
//   - an in-process Pipe used for embedding and tests
//
// A Receive error is either a *DecodeError, after which the connection is
// still usable, or wraps ErrClosed, after which it is not.
package transport
