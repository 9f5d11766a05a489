// Package safehttp implements the outbound HTTP client federation uses to
// talk to remote inboxes and actor endpoints (spec.md component 4.3):
// resolve-once-then-pin DNS handling to defeat rebinding, a private/loopback/
// link-local/multicast IP denylist, a bounded manual redirect chain, and a
// response body size cap.
package safehttp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/apcore/federation/httpsig"
	"github.com/miekg/dns"
)

var (
	ErrInvalidScheme     = errors.New("safehttp: scheme must be https")
	ErrInvalidHost       = errors.New("safehttp: host must be non-empty")
	ErrPrivateIP         = errors.New("safehttp: private_ip")
	ErrTooManyRedirects  = errors.New("safehttp: too many redirects")
	ErrResponseTooLarge  = errors.New("safehttp: response_too_large")
)

const maxRedirects = 5

// Config carries the tunables spec.md section 6 names for SafeHTTP.
type Config struct {
	ConnectTimeout    time.Duration
	ReceiveTimeout    time.Duration
	MaxBodySize       int64
	UserAgent         string
	AllowLoopbackHTTP bool // dev/test only: permits http:// to a loopback host.
	Nameserver        string // DNS server "host:port" to query; empty uses /etc/resolv.conf.
}

func DefaultConfig(userAgent string) Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReceiveTimeout: 30 * time.Second,
		MaxBodySize:    256 * 1024,
		UserAgent:      userAgent,
	}
}

// Client is a SafeHTTP transport. It is safe for concurrent use.
type Client struct {
	cfg    Config
	dns    *dns.Client
	server string
}

func New(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg, dns: &dns.Client{Timeout: cfg.ConnectTimeout}}
	if cfg.Nameserver != "" {
		c.server = cfg.Nameserver
	} else if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && conf != nil && len(conf.Servers) > 0 {
		c.server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return c, nil
}

// Get performs a validated GET and returns the body and status code.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, nil)
}

// SignedGet layers an HTTP Signature (draft-cavage) on top of Get, per
// spec.md 4.3's signed_get(url, priv, keyId) — used for the authorized-fetch
// fallback in ActorResolver.
func (c *Client) SignedGet(ctx context.Context, rawURL string, privateKey *rsa.PrivateKey, keyId string) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, func(req *http.Request) error {
		return httpsig.SignRequest(req, privateKey, keyId)
	})
}

// Post performs a validated, unsigned POST. POST never follows redirects.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, rawURL, body, nil)
}

// SignedPost is what DeliveryWorker uses to deliver an activity: a signed,
// validated POST with no redirect following.
func (c *Client) SignedPost(ctx context.Context, rawURL string, body []byte, privateKey *rsa.PrivateKey, keyId string) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, rawURL, body, func(req *http.Request) error {
		return httpsig.SignRequest(req, privateKey, keyId)
	})
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, sign func(*http.Request) error) ([]byte, int, error) {
	currentURL := rawURL
	for redirects := 0; ; redirects++ {
		u, ip, err := c.validateAndResolve(currentURL)
		if err != nil {
			return nil, 0, err
		}

		req, err := c.buildRequest(ctx, method, u, body)
		if err != nil {
			return nil, 0, fmt.Errorf("safehttp: build request: %w", err)
		}
		if sign != nil {
			if err := sign(req); err != nil {
				return nil, 0, fmt.Errorf("safehttp: sign request: %w", err)
			}
		}

		httpClient := &http.Client{
			Timeout: c.cfg.ReceiveTimeout,
			Transport: &http.Transport{
				DialContext: pinnedDialer(ip, c.cfg.ConnectTimeout),
				TLSClientConfig: &tls.Config{
					ServerName: u.Hostname(),
				},
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("safehttp: request failed: %w", err)
		}

		if resp.StatusCode/100 == 3 && method == http.MethodGet {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, resp.StatusCode, fmt.Errorf("safehttp: redirect status %d without Location", resp.StatusCode)
			}
			if redirects+1 > maxRedirects {
				return nil, 0, ErrTooManyRedirects
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, 0, fmt.Errorf("safehttp: invalid redirect location: %w", err)
			}
			currentURL = next.String()
			continue
		}

		limited := io.LimitReader(resp.Body, c.cfg.MaxBodySize+1)
		data, err := io.ReadAll(limited)
		resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("safehttp: read body: %w", err)
		}
		if int64(len(data)) > c.cfg.MaxBodySize {
			return nil, resp.StatusCode, ErrResponseTooLarge
		}
		return data, resp.StatusCode, nil
	}
}

func (c *Client) buildRequest(ctx context.Context, method string, u *url.URL, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	req.Host = u.Hostname()
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if method == http.MethodGet {
		req.Header.Set("Accept", "application/activity+json")
		return req, nil
	}

	req.Header.Set("Content-Type", "application/activity+json")
	if body != nil {
		sum := sha256.Sum256(body)
		req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))
	}
	return req, nil
}

// validateAndResolve implements spec.md 4.3's scheme/host checks and the
// resolve-once-before-connect step. It is re-run on every redirect hop.
func (c *Client) validateAndResolve(rawURL string) (*url.URL, net.IP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("safehttp: invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, nil, ErrInvalidHost
	}

	if u.Scheme != "https" {
		if !(c.cfg.AllowLoopbackHTTP && u.Scheme == "http") {
			return nil, nil, ErrInvalidScheme
		}
	}

	ip, err := c.resolveHostIP(host)
	if err != nil {
		return nil, nil, fmt.Errorf("safehttp: resolve %s: %w", host, err)
	}
	if isBlockedIP(ip) {
		return nil, nil, ErrPrivateIP
	}
	return u, ip, nil
}

func (c *Client) resolveHostIP(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if c.server == "" {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("lookup failed: %w", err)
		}
		return ips[0], nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		resp, _, err := c.dns.Exchange(msg, c.server)
		if err != nil || resp == nil {
			continue
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				return rr.A, nil
			case *dns.AAAA:
				return rr.AAAA, nil
			}
		}
	}
	return nil, fmt.Errorf("no A/AAAA record for %s", host)
}

// isBlockedIP rejects private, loopback, link-local, unspecified, ULA,
// multicast, and 0.0.0.0/8 addresses (spec.md 4.3). net.IP's IsPrivate
// already covers RFC1918 and fc00::/7; the rest are named explicitly.
func isBlockedIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
		return true // 0.0.0.0/8
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// pinnedDialer returns a DialContext that ignores the hostname net/http
// resolved and connects to ip instead, defeating DNS rebinding between
// validateAndResolve and the actual connection.
func pinnedDialer(ip net.IP, connectTimeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		dialer := &net.Dialer{Timeout: connectTimeout}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
	}
}
