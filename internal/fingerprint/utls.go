// Package fingerprint builds HTTP transports whose TLS handshake looks like a
// real browser's. Google fingerprints the ClientHello; the default Go
// handshake is distinctive enough to get plain HTTP scraping flagged early.
package fingerprint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile selects which browser's TLS fingerprint to present.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard library handshake, no camouflage
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// ParseProfile maps a configuration string to a Profile. An empty string
// selects chrome, the profile Google sees most.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return ProfileChrome, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	}
	return "", fmt.Errorf("unknown tls profile %q", s)
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("unknown tls profile %q", p)
}

func baseTransport(proxyFunc func(*http.Request) (*url.URL, error)) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if proxyFunc != nil {
		t.Proxy = proxyFunc
	}
	return t
}

// Transport returns a RoundTripper that speaks TLS with the given profile's
// ClientHello. ProfileGo yields a plain cloned http.Transport. proxyFunc is
// optional; when set it becomes the transport's Proxy.
func Transport(p Profile, proxyFunc func(*http.Request) (*url.URL, error)) (http.RoundTripper, error) {
	if p == ProfileGo {
		return baseTransport(proxyFunc), nil
	}

	hello, err := helloID(p)
	if err != nil {
		return nil, err
	}

	// The uTLS handshake replaces the crypto/tls one, so the dial has to be
	// done by hand: TCP first, then the camouflaged handshake on top.
	transport := baseTransport(proxyFunc)
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := transport.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn := utls.UClient(tcpConn, &utls.Config{ServerName: host}, hello)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("utls handshake: %w", err)
		}
		return uConn, nil
	}

	return transport, nil
}
