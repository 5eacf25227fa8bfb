package httpclientfactory

import (
	"context"
	"net"

	utls "github.com/refraction-networking/utls"
)

// utlsDialContext dials with a Chrome-shaped ClientHello fingerprint rather
// than Go's default, for deployments that sit behind a TLS fingerprint
// check and would otherwise be flagged as non-browser traffic.
func utlsDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	uconn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := uconn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return uconn, nil
}
