package runninghub

import "strings"

var audioExtensions = []string{".mp3", ".wav", ".flac", ".m4a", ".ogg"}
var videoExtensions = []string{".mp4", ".mov", ".webm", ".mkv"}

// PickAudioOutput selects the most plausible audio artifact from a job's
// outputs. Classification is heuristic: the declared file type or the URL
// extension must match a known audio extension. A single non-matching output
// is accepted anyway, since single-output jobs are assumed to contain the
// wanted artifact. Returns false when no output qualifies.
func PickAudioOutput(outputs []OutputFile) (OutputFile, bool) {
	if out, ok := pickByExtension(outputs, audioExtensions); ok {
		return out, true
	}
	if len(outputs) == 1 {
		return outputs[0], true
	}
	return OutputFile{}, false
}

// PickVideoOutput selects the most plausible video artifact from a job's
// outputs. Unlike audio, there is no single-output fallback: a video job
// that produced no video-like file is treated as having no deliverable.
func PickVideoOutput(outputs []OutputFile) (OutputFile, bool) {
	return pickByExtension(outputs, videoExtensions)
}

func pickByExtension(outputs []OutputFile, extensions []string) (OutputFile, bool) {
	for _, out := range outputs {
		fileType := strings.ToLower(strings.TrimSpace(out.FileType))
		fileURL := strings.ToLower(strings.TrimSpace(out.FileURL))
		for _, ext := range extensions {
			if fileType == strings.TrimPrefix(ext, ".") {
				return out, true
			}
			if strings.HasSuffix(fileURL, ext) {
				return out, true
			}
		}
	}
	return OutputFile{}, false
}
