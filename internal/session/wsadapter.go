package session

import "github.com/gorilla/websocket"

// WSWriter adapts a *websocket.Conn to the Writer interface, serializing
// TextMessage/BinaryMessage frames. Grounded on soha0219-x/core/core.go's
// wsWriter type, which wraps the same two gorilla/websocket calls.
type WSWriter struct {
	Conn *websocket.Conn
}

// WriteText sends s as a WebSocket TextMessage frame.
func (w *WSWriter) WriteText(s string) error {
	return w.Conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// WriteBinary sends b as a WebSocket BinaryMessage frame.
func (w *WSWriter) WriteBinary(b []byte) error {
	return w.Conn.WriteMessage(websocket.BinaryMessage, b)
}
