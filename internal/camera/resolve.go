package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

var youTubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

// isYouTube reports whether source is a YouTube page rather than a stream
// ffmpeg can read directly.
func isYouTube(source string) bool {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return youTubeHosts[strings.ToLower(u.Hostname())]
}

// resolve turns YouTube links, typically public test streams, into the direct
// media URL via yt-dlp. Other sources pass through unchanged.
func (o *FFmpegOpener) resolve(ctx context.Context, source string) (string, error) {
	if !isYouTube(source) {
		return source, nil
	}
	bin := o.YTDLPBinary
	if bin == "" {
		bin = "yt-dlp"
	}

	out, err := exec.CommandContext(ctx, bin,
		"--get-url",
		"--format", "best[height<=1080]",
		"--no-playlist",
		source,
	).Output()
	if err != nil {
		return "", fmt.Errorf("resolve %s with yt-dlp: %w", source, err)
	}
	return firstURL(out)
}

// firstURL picks the first line of yt-dlp output; split formats print the
// video URL before the audio one.
func firstURL(out []byte) (string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("yt-dlp returned no url")
	}
	return line, nil
}
