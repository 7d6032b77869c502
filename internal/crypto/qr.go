package crypto

import (
	"fmt"
	"net"

	"github.com/skip2/go-qrcode"
)

// BootstrapPayload is the content encoded into the relay bootstrap QR code:
// enough for a remote client to open a control connection to the relay and
// perform the `hello` handshake against this daemon.
type BootstrapPayload struct {
	RelayURL  string
	ServerID  string
	DaemonPub string // base64 X25519 public key
}

// String renders the payload as the literal text encoded into the QR code.
func (p BootstrapPayload) String() string {
	return fmt.Sprintf("paseo://relay?url=%s&serverId=%s&pub=%s", p.RelayURL, p.ServerID, p.DaemonPub)
}

// PNG renders the bootstrap payload as a PNG-encoded QR code of the given
// pixel size, suitable for serving from a local debug HTTP endpoint.
func PNG(payload BootstrapPayload, size int) ([]byte, error) {
	return qrcode.Encode(payload.String(), qrcode.Medium, size)
}

// ASCII renders the bootstrap payload as a terminal-printable QR code, for
// daemons started without a display (the common case for a headless CLI
// start).
func ASCII(payload BootstrapPayload) (string, error) {
	q, err := qrcode.New(payload.String(), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// LocalIPs returns the non-loopback IPv4 addresses of this host, used to
// pick a sensible default host for the bootstrap payload when the server
// is bound to 0.0.0.0.
func LocalIPs() []string {
	var ips []string

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4.String())
		}
	}

	return ips
}
