package audio

import (
	"context"
	"testing"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
	}{
		{
			name:   "standard duration line",
			output: "Input #0, mp3, from 'x.mp3':\n  Duration: 00:00:12.48, start: 0.0, bitrate: 128 kb/s",
			want:   12.48,
		},
		{
			name:   "hours and minutes",
			output: "  Duration: 01:02:03.500",
			want:   3723.5,
		},
		{
			name:   "no duration line",
			output: "x.mp3: Invalid data found when processing input",
			want:   0,
		},
		{
			name:   "empty output",
			output: "",
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDuration(tt.output); got != tt.want {
				t.Errorf("parseDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuration_MissingFFmpegYieldsZero(t *testing.T) {
	p := NewProber("/nonexistent/ffmpeg")
	if got := p.Duration(context.Background(), []byte("not audio"), "x.mp3"); got != 0 {
		t.Errorf("broken probe must yield 0, got %v", got)
	}
}
