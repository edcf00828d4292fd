package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

var defaultPorts = map[string]string{
	"rtsp":  "554",
	"rtsps": "7441", // UniFi Protect
	"http":  "80",
	"https": "443",
	"rtmp":  "1935",
	"srt":   "9000",
}

// TCP only checks that the source's host accepts connections.
type TCP struct {
	Timeout time.Duration
	dialer  net.Dialer
}

func NewTCP(o Options) *TCP { return &TCP{Timeout: o.timeout()} }

func (p *TCP) Probe(ctx context.Context, source string) error {
	addr, err := hostPort(source)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp probe %s: %w", addr, err)
	}
	_ = conn.Close()
	return nil
}

func hostPort(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("tcp probe: parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("tcp probe %s: %w", redact(source), ErrUnsupportedScheme)
	}
	port := u.Port()
	if port == "" {
		port = defaultPorts[strings.ToLower(u.Scheme)]
	}
	if port == "" {
		return "", fmt.Errorf("tcp probe %s: no port for scheme %q: %w", redact(source), u.Scheme, ErrUnsupportedScheme)
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// redact drops credentials from a source URL so they never reach the logs.
func redact(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	u.User = nil
	return u.String()
}
