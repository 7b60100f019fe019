package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/teranos/watchtower/errors"
)

func TestCheckURL(t *testing.T) {
	client := New(Options{BlockPrivateNetwork: true})

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"https", "https://pipeline.example.com/v1/run", false},
		{"http", "http://pipeline.example.com", false},
		{"file scheme", "file:///etc/passwd", true},
		{"gopher scheme", "gopher://example.com", true},
		{"userinfo", "https://user:pw@example.com/", true},
		{"localhost", "http://localhost:8080/run", true},
		{"localhost subdomain", "http://api.localhost/run", true},
		{"loopback ip", "http://127.0.0.1/run", true},
		{"rfc1918", "http://10.1.2.3/run", true},
		{"link-local metadata", "http://169.254.169.254/latest", true},
		{"ipv6 loopback", "http://[::1]/run", true},
		{"ipv6 unique local", "http://[fd00::1]/run", true},
		{"public ip", "http://93.184.216.34/run", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CheckURL(tt.url)
			if tt.blocked {
				if err == nil {
					t.Fatalf("expected %s to be blocked", tt.url)
				}
				if !errors.Is(err, ErrBlocked) {
					t.Errorf("expected ErrBlocked mark, got %v", err)
				}
			} else if err != nil {
				t.Errorf("expected %s to pass, got %v", tt.url, err)
			}
		})
	}
}

func TestCheckURL_PrivateAllowed(t *testing.T) {
	client := New(Options{BlockPrivateNetwork: false})

	if _, err := client.CheckURL("http://10.0.0.5:9000/run"); err != nil {
		t.Errorf("private target should pass when allowed: %v", err)
	}
	// Scheme checks apply regardless
	if _, err := client.CheckURL("ftp://10.0.0.5/run"); err == nil {
		t.Error("ftp should be blocked even with private network allowed")
	}
}

func TestIsPrivateAddr(t *testing.T) {
	private := []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.1.1", "169.254.1.1",
		"0.0.0.0", "100.64.0.1", "224.0.0.1", "255.255.255.255", "::1", "fe80::1", "fc00::1",
		"2001:db8::1", "::ffff:127.0.0.1"}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}

	for _, s := range private {
		if !IsPrivateAddr(netip.MustParseAddr(s)) {
			t.Errorf("%s should be private", s)
		}
	}
	for _, s := range public {
		if IsPrivateAddr(netip.MustParseAddr(s)) {
			t.Errorf("%s should be public", s)
		}
	}
}

func TestDo_BlocksLoopbackServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	if _, err := New(Options{BlockPrivateNetwork: true}).Do(req); err == nil {
		t.Error("expected loopback test server to be blocked")
	}

	resp, err := New(Options{}).Do(req)
	if err != nil {
		t.Fatalf("unguarded client should reach test server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func TestRedirectLimit(t *testing.T) {
	hops := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := New(Options{MaxRedirects: 2}).Do(req)
	if err == nil {
		t.Fatal("expected redirect loop to stop")
	}
	// Like net/http, the limit counts requests already made in the chain
	if hops != 2 {
		t.Errorf("expected 2 requests before the limit, got %d", hops)
	}
}
