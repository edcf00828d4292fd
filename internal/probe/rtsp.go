package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v3"
	"github.com/bluenviron/gortsplib/v3/pkg/url"
)

// RTSP asks the server to DESCRIBE the stream. It is cheaper than ffprobe
// because no media is pulled.
type RTSP struct {
	Timeout   time.Duration
	Transport string
}

func NewRTSP(o Options) *RTSP {
	return &RTSP{Timeout: o.timeout(), Transport: o.RTSPTransport}
}

func (p *RTSP) Probe(ctx context.Context, source string) error {
	if !isRTSP(source) {
		return fmt.Errorf("rtsp probe %s: %w", redact(source), ErrUnsupportedScheme)
	}
	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("rtsp probe: parse url: %w", err)
	}
	c := &gortsplib.Client{
		ReadTimeout:  p.Timeout,
		WriteTimeout: p.Timeout,
		// UniFi Protect serves rtsps with a self-signed certificate
		TLSConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
	}
	if p.Transport != "udp" {
		t := gortsplib.TransportTCP
		c.Transport = &t
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		if err := c.Start(u.Scheme, u.Host); err != nil {
			done <- err
			return
		}
		defer c.Close()
		medias, _, _, err := c.Describe(u)
		if err != nil {
			done <- err
			return
		}
		if len(medias) == 0 {
			done <- ErrNoMedia
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("rtsp probe %s: %w", redact(source), err)
		}
		return nil
	case <-ctx.Done():
		// the client goroutine still ends within ReadTimeout and closes itself
		return fmt.Errorf("rtsp probe %s: %w", redact(source), ctx.Err())
	}
}
