package output

import (
	"fmt"
	"net"
)

// UDPSender writes each packet as one datagram to a fixed destination.
type UDPSender struct {
	conn *net.UDPConn
}

// DialUDP connects a UDPSender to addr.
func DialUDP(addr string) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPSender{conn: conn}, nil
}

func (s *UDPSender) Send(pkt []byte) error {
	_, err := s.conn.Write(pkt)
	return err
}

// Close releases the socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}

// Discard accepts and drops every packet.
type Discard struct{}

func (Discard) Send([]byte) error { return nil }
