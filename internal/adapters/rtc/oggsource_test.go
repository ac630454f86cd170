package rtc

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOgg(t *testing.T, fs afero.Fs, path string, frames ...[]byte) {
	t.Helper()
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 2)
	require.NoError(t, err)
	for i, f := range frames {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * samplesPerFrame)},
			Payload: f,
		}))
	}
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o600))
}

func TestOggSourceLoops(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeOgg(t, fs, "/mic.ogg", []byte{0x01, 0x02, 0x03}, []byte{0x04, 0x05})

	src, err := OpenOgg(fs, "/mic.ogg")
	require.NoError(t, err)
	defer src.Close()

	var got [][]byte
	for i := 0; i < 3; i++ {
		f, err := src.ReadFrame()
		require.NoError(t, err)
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{{0x01, 0x02, 0x03}, {0x04, 0x05}, {0x01, 0x02, 0x03}}, got)
}

func TestOggSourceWithoutAudio(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeOgg(t, fs, "/empty.ogg")

	src, err := OpenOgg(fs, "/empty.ogg")
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, errNoAudio)
}

func TestOggSourceOpenErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := OpenOgg(fs, "/missing.ogg")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/garbage.ogg", []byte("not an ogg stream"), 0o600))
	_, err = OpenOgg(fs, "/garbage.ogg")
	assert.ErrorContains(t, err, "read ogg header")
}

func TestOggSourceDrivesMicTrack(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeOgg(t, fs, "/mic.ogg", []byte{0xaa})
	src, err := OpenOgg(fs, "/mic.ogg")
	require.NoError(t, err)

	out := &recorder{}
	m := newMicTrack(out, src)
	m.MarkLive()
	require.True(t, m.tick())
	require.Len(t, out.packets, 1)
	assert.Equal(t, []byte{0xaa}, out.packets[0].Payload)

	m.Discard()
	_, err = src.ReadFrame()
	assert.Error(t, err, "source is closed with the track")
}
