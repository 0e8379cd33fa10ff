package ingress

import "net"

// sendErrorResponse writes the mode-appropriate failure response to the
// client. Grounded on sendErrorResponse in original_source.
func sendErrorResponse(conn net.Conn, m mode) {
	switch m {
	case modeSOCKS5:
		conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	case modeHTTPConnect, modeHTTPProxy:
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
	}
}

// sendSuccessResponse writes the mode-appropriate success response. Forward
// proxy mode sends nothing — the upstream's own response flows straight
// through the relay. Grounded on sendSuccessResponse in original_source.
func sendSuccessResponse(conn net.Conn, m mode) error {
	switch m {
	case modeSOCKS5:
		_, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		return err
	case modeHTTPConnect:
		_, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		return err
	}
	return nil
}
