package meteo

import (
	"bytes"
	"fmt"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/require"
)

func TestExtractFrames_Empty(t *testing.T) {
	frames, rest := ExtractFrames(nil)
	require.Empty(t, frames)
	require.Empty(t, rest)
}

func TestExtractFrames_PartialOnly(t *testing.T) {
	frames, rest := ExtractFrames([]byte("$WIMTA,12"))
	require.Empty(t, frames)
	require.Equal(t, []byte("$WIMTA,12"), rest)
}

func TestExtractFrames_Lossless(t *testing.T) {
	input := []byte("$WIMTA,12.5\n$WIMWV,180,,3.2\n$WIMHU,55")
	frames, rest := ExtractFrames(input)
	require.Len(t, frames, 2)

	var joined bytes.Buffer
	for _, f := range frames {
		joined.Write(f)
	}
	joined.Write(rest)
	require.Equal(t, input, joined.Bytes())
}

// Splitting the stream at arbitrary chunk boundaries must yield the same
// frames as one well-formed read.
func TestExtractFrames_ChunkBoundaryIndependence(t *testing.T) {
	input := "$WIMTA,12.5\n$WIMWV,180,,3.2\n$WIMHU,55,,9.1\n$WIMMB,,,1013.2\n"

	want, rest := ExtractFrames([]byte(input))
	require.Empty(t, rest)

	for chunk := 1; chunk <= len(input); chunk++ {
		var got [][]byte
		var buf []byte
		for i := 0; i < len(input); i += chunk {
			end := i + chunk
			if end > len(input) {
				end = len(input)
			}
			buf = append(buf, input[i:end]...)
			frames, r := ExtractFrames(buf)
			got = append(got, frames...)
			buf = append([]byte(nil), r...)
		}
		require.Empty(t, buf, "chunk size %d", chunk)
		require.Equal(t, want, got, "chunk size %d", chunk)
	}
}

func TestParseSentence_Fields(t *testing.T) {
	s, err := ParseSentence([]byte("$WIMWV,180,,3.2\r\n"))
	require.NoError(t, err)
	require.Equal(t, "$WIMWV", s.Type)
	require.Equal(t, []string{"180", "", "3.2"}, s.Fields)
}

func TestParseSentence_EmptyFrameDropped(t *testing.T) {
	for _, frame := range []string{"\n", "\r\n"} {
		_, err := ParseSentence([]byte(frame))
		require.ErrorIs(t, err, ErrEmptyFrame)
	}
}

func TestParseSentence_Checksum(t *testing.T) {
	valid := fmt.Sprintf("$WIMTA,12.5*%s\n", nmea.Checksum("WIMTA,12.5"))
	s, err := ParseSentence([]byte(valid))
	require.NoError(t, err)
	require.Equal(t, "$WIMTA", s.Type)
	require.Equal(t, []string{"12.5"}, s.Fields)

	_, err = ParseSentence([]byte("$WIMTA,12.5*00\n"))
	require.ErrorIs(t, err, ErrChecksum)
}
