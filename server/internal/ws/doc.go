// Package ws implements the WebSocket hub for tpsmeter-server.
//
// Hub manages a set of connected clients and broadcasts the current output
// rate to all of them on a configurable interval (server.tps.broadcast_interval).
//
// New(src, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker. It blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// rate immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "tps",
//	  "data":  { /* same schema as GET /api/v1/tps */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The WebSocket endpoint is mounted at /ws/stream by the server.
package ws
