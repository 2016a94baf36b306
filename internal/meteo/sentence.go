package meteo

import (
	"bytes"
	"errors"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Sentence is one decoded, newline-terminated frame from the station, e.g.
// "$WIMWV,180,,3.2". The leading token identifies the sentence type; the
// remaining comma-separated fields are kept as raw strings because which of
// them mean what is up to the assembler's mapping.
type Sentence struct {
	Type   string
	Fields []string
}

var (
	// ErrEmptyFrame marks a terminator-only frame, which is dropped.
	ErrEmptyFrame = errors.New("meteo: empty frame")
	// ErrChecksum marks a frame whose trailing NMEA checksum does not match.
	ErrChecksum = errors.New("meteo: checksum mismatch")
)

// ExtractFrames splits buffered serial bytes into complete newline-terminated
// frames and the unconsumed remainder. Frames keep their terminator, so
// concatenating all frames plus the remainder reproduces the input exactly.
// The function has no state: feeding the same bytes in different chunkings
// yields the same frames.
func ExtractFrames(buf []byte) ([][]byte, []byte) {
	if len(buf) == 0 {
		return nil, nil
	}

	var frames [][]byte
	for {
		pos := bytes.IndexByte(buf, '\n')
		if pos < 0 {
			break
		}
		frames = append(frames, buf[:pos+1])
		buf = buf[pos+1:]
	}
	return frames, buf
}

// ParseSentence decodes one raw frame into a Sentence. Terminator-only frames
// yield ErrEmptyFrame. The Lambrecht station sends its sentences without an
// NMEA checksum, but if a frame does carry a "*hh" suffix it is verified and
// a mismatch yields ErrChecksum.
func ParseSentence(frame []byte) (Sentence, error) {
	line := strings.TrimRight(string(frame), "\r\n")
	if line == "" {
		return Sentence{}, ErrEmptyFrame
	}

	if n := len(line); n >= 3 && line[n-3] == '*' {
		body := strings.TrimPrefix(line[:n-3], "$")
		if !strings.EqualFold(nmea.Checksum(body), line[n-2:]) {
			return Sentence{}, ErrChecksum
		}
		line = line[:n-3]
	}

	parts := strings.Split(line, ",")
	return Sentence{Type: parts[0], Fields: parts[1:]}, nil
}
