// Package mp3decoder provides the MP3 source and decoder nodes. Per the
// framework's scoping these are thin: the decoding math itself is an external
// collaborator, so the decoder node only honors the node lifecycle contract
// and moves pool-backed PCM buffers down its datapath leg.
package mp3decoder

import (
	"path/filepath"
	"strings"

	"github.com/hbomb79/pvplayer/internal/perr"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("MP3")

const (
	MimeTypeMP3 = "audio/mpeg"

	// samplesPerFrame/sampleRate give the canonical MPEG-1 Layer III frame
	// duration of ~26ms; the source snaps seek targets to frame boundaries.
	frameDurationMS = 26
)

// Recognizer identifies MP3 content from the source URI.
// Content sniffing would require the file I/O layer, which is an external
// collaborator, so recognition is by extension.
type Recognizer struct{}

func (Recognizer) Recognize(sourceURI string) (string, error) {
	if strings.EqualFold(filepath.Ext(sourceURI), ".mp3") {
		return MimeTypeMP3, nil
	}
	return "", perr.New(perr.ErrNotSupported, "%q is not an MP3 source", sourceURI)
}
