// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes. These give clients a more specific reason than the standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected without the teexid subprotocol.
	InvalidAuthTokenError = 3001 // Handshake token was invalid or expired.
)
