package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/watchtower/errors"
)

// ErrBlocked marks requests refused before any bytes leave the process
var ErrBlocked = errors.New("request blocked")

// Options configures a guarded client
type Options struct {
	Timeout             time.Duration // whole-request timeout, 0 = rely on the caller's context
	BlockPrivateNetwork bool          // refuse loopback, RFC 1918, link-local and similar targets
	MaxRedirects        int           // 0 = default of 5
}

// Client is an http.Client that validates targets before dialing.
// The pipeline endpoint comes from configuration, and redirects could
// otherwise bounce the API key to an internal address.
type Client struct {
	http         *http.Client
	blockPrivate bool
	maxRedirects int
}

// New builds a guarded client
func New(opts Options) *Client {
	c := &Client{
		blockPrivate: opts.BlockPrivateNetwork,
		maxRedirects: opts.MaxRedirects,
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.blockPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			// Check resolved addresses too, so DNS cannot point a public name inward
			ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if IsPrivateAddr(ip) {
					return nil, errors.Mark(errors.Newf("private address %s for host %q", ip, host), ErrBlocked)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}

	c.http = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.maxRedirects {
				return errors.Newf("stopped after %d redirects", c.maxRedirects)
			}
			if err := c.check(req.URL); err != nil {
				return errors.Wrap(err, "redirect")
			}
			return nil
		},
	}
	return c
}

// CheckURL parses and validates a target URL
func (c *Client) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Mark(errors.Newf("scheme %q not allowed", u.Scheme), ErrBlocked)
	}
	if u.User != nil {
		return errors.Mark(errors.New("URL carries userinfo"), ErrBlocked)
	}
	host := u.Hostname()
	if host == "" {
		return errors.Mark(errors.New("URL missing hostname"), ErrBlocked)
	}
	if !c.blockPrivate {
		return nil
	}
	if isLocalhostName(host) {
		return errors.Mark(errors.Newf("localhost target %q", host), ErrBlocked)
	}
	if ip, err := netip.ParseAddr(host); err == nil && IsPrivateAddr(ip) {
		return errors.Mark(errors.Newf("private address %s", ip), ErrBlocked)
	}
	return nil
}

// Do validates the request target, then sends it
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"), // deprecated site-local
}

// IsPrivateAddr reports whether ip is loopback, private, link-local, multicast,
// unspecified or otherwise not publicly routable.
func IsPrivateAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhostName(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
