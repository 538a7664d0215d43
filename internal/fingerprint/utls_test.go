package fingerprint

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	utls "github.com/refraction-networking/utls"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	profiles := []Profile{
		ProfileChrome,
		ProfileFirefox,
		ProfileSafari,
		ProfileGo,
		ProfileRandom,
	}

	for _, p := range profiles {
		t.Run(string(p), func(t *testing.T) {
			rt, err := Transport(p, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			tr, ok := rt.(*http.Transport)
			if !ok {
				t.Fatalf("expected *http.Transport, got %T", rt)
			}

			// The test server's certificate is self-signed, so certificate
			// verification has to come off whichever handshake path the
			// profile uses.
			if p == ProfileGo {
				tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			} else {
				hello, err := helloID(p)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				dial := tr.DialContext
				tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
					tcpConn, err := dial(ctx, network, addr)
					if err != nil {
						return nil, err
					}
					host, _, err := net.SplitHostPort(addr)
					if err != nil {
						host = addr
					}
					uConn := utls.UClient(tcpConn, &utls.Config{ServerName: host, InsecureSkipVerify: true}, hello)
					if err := uConn.HandshakeContext(ctx); err != nil {
						_ = tcpConn.Close()
						return nil, err
					}
					return uConn, nil
				}
			}

			client := &http.Client{Transport: tr}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
		})
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	_, err := Transport(Profile("unknown_browser"), nil)
	if err == nil {
		t.Fatal("expected error for unknown profile, got nil")
	}
	if err.Error() != `unknown tls profile "unknown_browser"` {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	cases := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"", ProfileChrome, false},
		{"chrome", ProfileChrome, false},
		{" Firefox ", ProfileFirefox, false},
		{"SAFARI", ProfileSafari, false},
		{"go", ProfileGo, false},
		{"random", ProfileRandom, false},
		{"netscape", "", true},
	}

	for _, tc := range cases {
		got, err := ParseProfile(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseProfile(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProfile(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseProfile(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
