package e2e

import (
	"net/http"
	"strings"
	"testing"
)

var siteFiles = map[string]string{
	"index.html":       "<html><body>home</body></html>\n",
	"about/index.html": "<html><body>about</body></html>\n",
	"docs/guide.txt":   "plain text guide\n",
	"assets/site.css":  "body { margin: 0; }\n",
	"assets/data.json": `{"ok":true}`,
	"empty.txt":        "",
}

// TestServeFiles fetches every fixture through net/http
func TestServeFiles(t *testing.T) {
	runOnAllConfigs(t, siteFiles, func(t *testing.T, tc *TestContext) {
		client := newClient()

		tests := []struct {
			path        string
			body        string
			contentType string
		}{
			{"/index.html", siteFiles["index.html"], "text/html"},
			{"/", siteFiles["index.html"], "text/html"},
			{"/about/index.html", siteFiles["about/index.html"], "text/html"},
			{"/docs/guide.txt", siteFiles["docs/guide.txt"], "text/plain"},
			{"/assets/site.css", siteFiles["assets/site.css"], "text/css"},
			{"/assets/data.json", siteFiles["assets/data.json"], "application/json"},
			{"/empty.txt", "", ""},
			{"/docs/guide.txt?version=2", siteFiles["docs/guide.txt"], "text/plain"},
		}

		for _, tt := range tests {
			resp, body := get(t, client, tc.URL(tt.path))
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s: expected 200, got %d", tt.path, resp.StatusCode)
				continue
			}
			if string(body) != tt.body {
				t.Errorf("GET %s: body mismatch: got %q, want %q", tt.path, body, tt.body)
			}
			if resp.ContentLength != int64(len(tt.body)) {
				t.Errorf("GET %s: expected Content-Length %d, got %d", tt.path, len(tt.body), resp.ContentLength)
			}
			if ct := resp.Header.Get("Content-Type"); tt.contentType != "" && !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("GET %s: expected Content-Type %s, got %q", tt.path, tt.contentType, ct)
			}
		}
	})
}

// TestErrorStatuses checks the resource error responses
func TestErrorStatuses(t *testing.T) {
	runOnAllConfigs(t, siteFiles, func(t *testing.T, tc *TestContext) {
		tc.WriteFile("private.html", "secret", 0600)

		client := newClient()

		tests := []struct {
			path   string
			status int
		}{
			{"/missing.html", http.StatusNotFound},
			{"/docs/missing/", http.StatusNotFound},
			{"/private.html", http.StatusForbidden},
			{"/docs", http.StatusForbidden},
		}

		for _, tt := range tests {
			resp, _ := get(t, client, tc.URL(tt.path))
			if resp.StatusCode != tt.status {
				t.Errorf("GET %s: expected %d, got %d", tt.path, tt.status, resp.StatusCode)
			}
		}

		// The connection survives resource errors
		resp, body := get(t, client, tc.URL("/docs/guide.txt"))
		if resp.StatusCode != http.StatusOK || string(body) != siteFiles["docs/guide.txt"] {
			t.Errorf("Request after errors failed: %d %q", resp.StatusCode, body)
		}
	})
}

// TestDotSegmentsForbidden sends a target net/http would clean
func TestDotSegmentsForbidden(t *testing.T) {
	runOnAllConfigs(t, siteFiles, func(t *testing.T, tc *TestContext) {
		conn := dialRaw(t, tc)

		resp, _ := conn.roundTrip("GET /docs/../../etc/passwd HTTP/1.1\r\nHost: test\r\n\r\n")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403 for dot segments, got %d", resp.StatusCode)
		}
	})
}

// TestMalformedRequest checks that a protocol error is answered and closes
func TestMalformedRequest(t *testing.T) {
	requests := map[string]string{
		"unknown method":     "BREW /pot HTTP/1.1\r\n\r\n",
		"bad version":        "GET / HTTP/2.0\r\n\r\n",
		"missing target":     "GET HTTP/1.1\r\n\r\n",
		"header no colon":    "GET / HTTP/1.1\r\nHost test\r\n\r\n",
		"not executed":       "DELETE /index.html HTTP/1.1\r\nHost: test\r\n\r\n",
		"bad content length": "GET / HTTP/1.1\r\nContent-Length: many\r\n\r\n",
		"keep-alive ignored": "bogus\r\nConnection: keep-alive\r\n\r\n",
	}

	runOnAllConfigs(t, siteFiles, func(t *testing.T, tc *TestContext) {
		for name, request := range requests {
			t.Run(name, func(t *testing.T) {
				conn := dialRaw(t, tc)

				resp, _ := conn.roundTrip(request)
				if resp.StatusCode != http.StatusBadRequest {
					t.Errorf("Expected 400, got %d", resp.StatusCode)
				}
				if !conn.closedByPeer() {
					t.Error("Expected connection to close after 400")
				}
			})
		}
	})
}

// TestHTTP10 checks connection persistence for HTTP/1.0 requests
func TestHTTP10(t *testing.T) {
	runOnAllConfigs(t, siteFiles, func(t *testing.T, tc *TestContext) {
		conn := dialRaw(t, tc)
		resp, body := conn.roundTrip("GET /docs/guide.txt HTTP/1.0\r\n\r\n")
		if resp.StatusCode != http.StatusOK || string(body) != siteFiles["docs/guide.txt"] {
			t.Fatalf("Unexpected response: %d %q", resp.StatusCode, body)
		}
		if !conn.closedByPeer() {
			t.Error("HTTP/1.0 request without keep-alive must close")
		}

		conn = dialRaw(t, tc)
		for i := 0; i < 3; i++ {
			resp, _ := conn.roundTrip("GET /docs/guide.txt HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Keep-alive request %d: expected 200, got %d", i, resp.StatusCode)
			}
		}
	})
}
