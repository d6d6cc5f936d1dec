// Package ws attaches a sandboxed execution context to its session
// bridge over WebSocket.
//
// The handshake enforces the bridge's origin allowlist before the
// upgrade: a browser iframe presents its real Origin header, and an
// opaque-origin (fully sandboxed) context presents the literal "null",
// which maps to the bridge's sandbox placeholder. Once attached, the
// connection is the session's transport — control commands flow out as
// JSON frames and sandbox messages flow back through the bridge's
// verified inbound path.
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, logger)
//	router.GET("/sessions/:id/bridge", handler.HandleBridge)
package ws
