package netutils

import (
	"net"
)

// GetOutboundIP returns the local address the system routes external
// traffic through.  Dialing udp does not actually send anything, it only
// asks the kernel to pick a source address for the destination.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	_ = conn.Close()

	return localAddr.IP, nil
}
