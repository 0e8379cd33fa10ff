package socks5

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// DNSRelay sends a raw wire-format DNS query over the tunnel's ECH channel
// and returns the raw response body, per §4.4's DoH-over-tunnel relay.
type DNSRelay interface {
	QueryRaw(ctx context.Context, query []byte) ([]byte, error)
}

// udpReadBufferSize matches the teacher's reduced 8192-byte buffer
// (original_source trimmed this down from 65535 to save memory per
// connection).
const udpReadBufferSize = 8192

// HandleUDPAssociate implements the CMD 0x03 flow: bind a UDP socket on
// 127.0.0.1:0, reply with the bound address, relay DNS-only datagrams over
// relay until tcpConn closes. It blocks until tcpConn's control read
// returns, then tears the UDP socket down.
func HandleUDPAssociate(tcpConn net.Conn, relay DNSRelay, logger *zap.Logger) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		logger.Warn("udp associate listen failed", zap.Error(err))
		WriteReply(tcpConn, ReplyGeneralFailure)
		return
	}

	bound := udpConn.LocalAddr().(*net.UDPAddr)
	if err := WriteUDPAssociateReply(tcpConn, bound); err != nil {
		udpConn.Close()
		return
	}

	stop := make(chan struct{})
	go relayUDP(udpConn, relay, logger, stop)

	// The TCP control connection's liveness is the association's lifetime;
	// a read here blocks until the client closes it.
	buf := make([]byte, 1)
	tcpConn.Read(buf)

	close(stop)
	udpConn.Close()
}

func relayUDP(udpConn *net.UDPConn, relay DNSRelay, logger *zap.Logger, stop chan struct{}) {
	buf := make([]byte, udpReadBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		udpConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, clientAddr, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		if n < 10 {
			continue
		}

		datagram := buf[:n]
		if datagram[2] != 0x00 { // FRAG must be 0; fragmented datagrams are dropped.
			continue
		}

		headerLen, dstPort, ok := parseUDPHeader(datagram)
		if !ok {
			continue
		}

		if dstPort != 53 {
			logger.Debug("dropping non-DNS UDP datagram", zap.Int("port", dstPort))
			continue
		}

		header := append([]byte(nil), datagram[:headerLen]...)
		query := append([]byte(nil), datagram[headerLen:]...)
		go answerDNSQuery(udpConn, clientAddr, query, header, relay, logger)
	}
}

// parseUDPHeader returns the SOCKS5 UDP request header length and the
// destination port, or ok=false if the ATYP is unrecognized or the
// datagram is too short for its own header.
func parseUDPHeader(datagram []byte) (headerLen int, dstPort int, ok bool) {
	atyp := datagram[3]
	switch atyp {
	case atypIPv4:
		if len(datagram) < 10 {
			return 0, 0, false
		}
		return 10, int(datagram[8])<<8 | int(datagram[9]), true
	case atypDomain:
		if len(datagram) < 5 {
			return 0, 0, false
		}
		domainLen := int(datagram[4])
		headerLen = 7 + domainLen
		if len(datagram) < headerLen {
			return 0, 0, false
		}
		return headerLen, int(datagram[5+domainLen])<<8 | int(datagram[6+domainLen]), true
	case atypIPv6:
		if len(datagram) < 22 {
			return 0, 0, false
		}
		return 22, int(datagram[20])<<8 | int(datagram[21]), true
	default:
		return 0, 0, false
	}
}

func answerDNSQuery(udpConn *net.UDPConn, clientAddr *net.UDPAddr, query, socks5Header []byte, relay DNSRelay, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	response, err := relay.QueryRaw(ctx, query)
	if err != nil {
		logger.Warn("doh relay query failed", zap.Error(err))
		return
	}

	reply := make([]byte, 0, len(socks5Header)+len(response))
	reply = append(reply, socks5Header...)
	reply = append(reply, response...)

	if _, err := udpConn.WriteToUDP(reply, clientAddr); err != nil {
		logger.Warn("doh relay write back failed", zap.Error(err))
	}
}
