// Package audio measures the duration of generated speech via the ffmpeg CLI.
package audio

import (
	"bytes"
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

// Prober reports the duration of audio payloads.
type Prober struct {
	ffmpegPath string
}

// NewProber creates a duration prober. An empty path resolves ffmpeg from
// PATH.
func NewProber(ffmpegPath string) *Prober {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Prober{ffmpegPath: ffmpegPath}
}

// durationPattern matches the "Duration: HH:MM:SS.ms" line ffmpeg prints on
// stderr while decoding.
var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// Duration returns the audio length in seconds, rounded to milliseconds.
// The probe is best effort: any failure yields 0 so a missing or broken
// ffmpeg never fails the pipeline stage that only wants the number.
func (p *Prober) Duration(ctx context.Context, audioBytes []byte, filename string) float64 {
	suffix := filepath.Ext(filename)
	if suffix == "" {
		suffix = ".mp3"
	}

	tmp, err := os.CreateTemp("", "probe_*"+suffix)
	if err != nil {
		return 0
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audioBytes); err != nil {
		tmp.Close()
		return 0
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", tmp.Name(),
		"-hide_banner",
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero with a null muxer; the duration line still lands
	// on stderr.
	_ = cmd.Run()

	return parseDuration(stderr.String())
}

func parseDuration(output string) float64 {
	matches := durationPattern.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	fraction, _ := strconv.ParseFloat(matches[4], 64)

	divisor := 1.0
	for range matches[4] {
		divisor *= 10
	}

	total := hours*3600 + minutes*60 + seconds + fraction/divisor
	return math.Round(total*1000) / 1000
}
