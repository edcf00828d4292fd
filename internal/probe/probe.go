// Package probe checks whether a stream source currently yields media.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 8 * time.Second

// MaxTimeout is the hard upper bound for any probe.
const MaxTimeout = 10 * time.Second

var (
	// ErrNoMedia means the source answered but advertised no usable media.
	ErrNoMedia = errors.New("no media in stream")
	// ErrUnsupportedScheme is returned for sources a prober cannot handle.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
)

// Prober checks one source. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, source string) error
}

// Func adapts a function to Prober.
type Func func(ctx context.Context, source string) error

func (f Func) Probe(ctx context.Context, source string) error { return f(ctx, source) }

// Kind names a probe implementation in configuration.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindFFProbe Kind = "ffprobe"
	KindRTSP    Kind = "rtsp"
	KindTCP     Kind = "tcp"
	KindNone    Kind = "none"
)

// Options are shared by all probe kinds.
type Options struct {
	Timeout       time.Duration
	FFProbePath   string // default "ffprobe"
	RTSPTransport string // "tcp" (default) or "udp"
}

func (o Options) timeout() time.Duration {
	switch {
	case o.Timeout <= 0:
		return DefaultTimeout
	case o.Timeout > MaxTimeout:
		return MaxTimeout
	default:
		return o.Timeout
	}
}

// New returns the prober for kind. KindNone returns a nil Prober: liveness
// then rests on process presence alone.
func New(kind Kind, o Options) (Prober, error) {
	switch kind {
	case KindNone:
		return nil, nil
	case KindFFProbe:
		return NewFFProbe(o), nil
	case KindRTSP:
		return NewRTSP(o), nil
	case KindTCP:
		return NewTCP(o), nil
	case KindAuto, "":
		path := o.FFProbePath
		if path == "" {
			path = "ffprobe"
		}
		if _, err := exec.LookPath(path); err == nil {
			return NewFFProbe(o), nil
		}
		return NewRTSP(o), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}
}
