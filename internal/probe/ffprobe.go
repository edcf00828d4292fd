package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFProbe inspects a source with the ffprobe binary.
type FFProbe struct {
	Path      string
	Timeout   time.Duration
	Transport string
}

func NewFFProbe(o Options) *FFProbe {
	p := &FFProbe{Path: o.FFProbePath, Timeout: o.timeout(), Transport: o.RTSPTransport}
	if p.Path == "" {
		p.Path = "ffprobe"
	}
	if p.Transport == "" {
		p.Transport = "tcp"
	}
	return p
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Args returns the ffprobe argument list for source.
func (p *FFProbe) Args(source string) []string {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams"}
	if isRTSP(source) {
		args = append(args, "-rtsp_transport", p.Transport)
	}
	// ffprobe takes the socket timeout in microseconds
	args = append(args, "-timeout", strconv.FormatInt(p.Timeout.Microseconds(), 10), source)
	return args
}

func (p *FFProbe) Probe(ctx context.Context, source string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	// #nosec G204 -- the source comes from the operator's layout file
	cmd := exec.CommandContext(ctx, p.Path, p.Args(source)...)
	cmd.WaitDelay = 500 * time.Millisecond
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return fmt.Errorf("ffprobe %s: %w", redact(source), ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("ffprobe %s: %w", redact(source), err)
	}
	return parseFFProbe(out)
}

// parseFFProbe accepts the output when at least one video stream is present.
func parseFFProbe(out []byte) error {
	var info ffprobeOutput
	if err := json.Unmarshal(out, &info); err != nil {
		return fmt.Errorf("decode ffprobe output: %w", err)
	}
	for _, s := range info.Streams {
		if s.CodecType == "video" || (s.Width > 0 && s.Height > 0) {
			return nil
		}
	}
	return ErrNoMedia
}

func isRTSP(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "rtsp://") || strings.HasPrefix(s, "rtsps://")
}
