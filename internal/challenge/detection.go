package challenge

import (
	"bytes"
	"net/http"
	"strings"
)

// Page is the slice of a fetch response the detectors examine.
type Page struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector examines a fetched page to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(p *Page) (detected bool, source string)

// DefaultDetectors returns the standard detector chain. Google's own
// interstitial comes first since it is the one a rank tracker actually hits;
// the vendor checks cover proxied or mirrored endpoints.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogle,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Detect runs the page through the detectors in order and reports the first
// match. It never modifies the page.
func Detect(p *Page, detectors []Detector) (source string, detected bool) {
	if p == nil {
		return "", false
	}
	for _, d := range detectors {
		if ok, src := d(p); ok {
			return src, true
		}
	}
	return "", false
}

// detectGoogle looks for the "unusual traffic" interstitial and the /sorry/
// captcha wall. Google serves these with 429 or with 200 plus a recaptcha
// form, so the body markers matter more than the status code.
func detectGoogle(p *Page) (bool, string) {
	if p.StatusCode == http.StatusTooManyRequests {
		return true, "Google"
	}
	if bytes.Contains(p.Body, []byte("unusual traffic from your computer network")) ||
		bytes.Contains(p.Body, []byte("Our systems have detected unusual traffic")) {
		return true, "Google"
	}
	if bytes.Contains(p.Body, []byte("google.com/sorry/")) ||
		(bytes.Contains(p.Body, []byte("/sorry/index")) && bytes.Contains(p.Body, []byte("g-recaptcha"))) {
		return true, "Google"
	}
	return false, ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(p *Page) (bool, string) {
	// Status codes 403 or 503 are common for CF challenges
	if p.StatusCode == http.StatusForbidden || p.StatusCode == http.StatusServiceUnavailable {
		server := strings.ToLower(p.Header.Get("Server"))
		if strings.Contains(server, "cloudflare") {
			return true, "Cloudflare"
		}

		if bytes.Contains(p.Body, []byte("cf-browser-verification")) ||
			bytes.Contains(p.Body, []byte("cloudflare-nginx")) ||
			bytes.Contains(p.Body, []byte("cf-turnstile")) ||
			bytes.Contains(p.Body, []byte("Attention Required! | Cloudflare")) {
			return true, "Cloudflare"
		}
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(p *Page) (bool, string) {
	if p.StatusCode == http.StatusForbidden {
		server := strings.ToLower(p.Header.Get("Server"))
		if strings.Contains(server, "akamai") {
			return true, "Akamai"
		}

		// Akamai often returns a generic "Reference #" block page
		if bytes.Contains(p.Body, []byte("Reference #")) && bytes.Contains(p.Body, []byte("Access Denied")) {
			return true, "Akamai"
		}
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(p *Page) (bool, string) {
	if p.StatusCode == http.StatusForbidden {
		server := strings.ToLower(p.Header.Get("Server"))
		if strings.Contains(server, "datadome") {
			return true, "DataDome"
		}

		if p.Header.Get("X-DataDome") != "" || p.Header.Get("X-DataDome-Response") != "" {
			return true, "DataDome"
		}

		if bytes.Contains(p.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(p.Body, []byte("datadome")) {
			return true, "DataDome"
		}
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(p *Page) (bool, string) {
	if p.StatusCode == http.StatusForbidden {
		if p.Header.Get("X-Px-Captcha") != "" {
			return true, "PerimeterX"
		}

		if bytes.Contains(p.Body, []byte("client.perimeterx.net")) ||
			bytes.Contains(p.Body, []byte("px-captcha")) ||
			bytes.Contains(p.Body, []byte("_pxBlock")) {
			return true, "PerimeterX"
		}
	}
	return false, ""
}
