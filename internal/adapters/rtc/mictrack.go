package rtc

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type TrackState int32

const (
	TrackStateMuted TrackState = iota
	TrackStateLive
	TrackStateClosed
)

const (
	opusPayloadType = 111
	frameDuration   = 20 * time.Millisecond
	// 48kHz clock, 20ms frames.
	samplesPerFrame = 960
)

// opusSilence is a single Opus DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FrameSource yields encoded Opus frames of frameDuration each.
type FrameSource interface {
	ReadFrame() ([]byte, error)
}

// Silence is a FrameSource for hosts without a capture device.
type Silence struct{}

func (Silence) ReadFrame() ([]byte, error) { return opusSilence, nil }

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// MicTrack sends the local microphone. Frames flow only while the track is
// live; muting stops packets without renegotiation.
type MicTrack struct {
	Track *webrtc.TrackLocalStaticRTP

	out   rtpWriter
	src   FrameSource
	state atomic.Int32 // Zero by default (TrackStateMuted)

	seq       uint16
	timestamp uint32
	ssrc      uint32
	resumed   bool

	onDeviceError func(error)
}

func NewMicTrack(src FrameSource) (*MicTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicectl-mic",
	)
	if err != nil {
		return nil, err
	}
	m := newMicTrack(track, src)
	m.Track = track
	return m, nil
}

func newMicTrack(out rtpWriter, src FrameSource) *MicTrack {
	if src == nil {
		src = Silence{}
	}
	return &MicTrack{
		out:       out,
		src:       src,
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
		ssrc:      rand.Uint32(),
		resumed:   true,
	}
}

func (m *MicTrack) GetState() TrackState {
	return TrackState(m.state.Load())
}

func (m *MicTrack) MarkLive() {
	m.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateLive))
}

func (m *MicTrack) MarkMuted() {
	m.state.CompareAndSwap(int32(TrackStateLive), int32(TrackStateMuted))
}

func (m *MicTrack) MarkClosed() {
	m.state.Store(int32(TrackStateClosed))
}

// Discard closes a track that never ran, releasing its frame source.
func (m *MicTrack) Discard() {
	m.MarkClosed()
	m.closeSource()
}

func (m *MicTrack) closeSource() {
	if c, ok := m.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("close frame source")
		}
	}
}

// OnDeviceError is called when the frame source fails. The track is muted.
func (m *MicTrack) OnDeviceError(fn func(error)) { m.onDeviceError = fn }

// Run paces frames onto the track until ctx ends or the track is closed.
func (m *MicTrack) Run(ctx context.Context) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	defer m.closeSource()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.tick() {
			return
		}
	}
}

// tick sends at most one frame and reports whether the loop should continue.
func (m *MicTrack) tick() bool {
	// The media clock advances while muted so the receiver sees the gap.
	defer func() { m.timestamp += samplesPerFrame }()

	switch m.GetState() {
	case TrackStateClosed:
		return false
	case TrackStateMuted:
		m.resumed = true
		return true
	}

	frame, err := m.src.ReadFrame()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("microphone read failed, muting")
		m.MarkMuted()
		if m.onDeviceError != nil {
			m.onDeviceError(err)
		}
		return true
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         m.resumed,
			PayloadType:    opusPayloadType,
			SequenceNumber: m.seq,
			Timestamp:      m.timestamp,
			SSRC:           m.ssrc,
		},
		Payload: frame,
	}
	m.seq++
	m.resumed = false

	if err := m.out.WriteRTP(pkt); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return false
		}
		log.Warn().Err(err).Str("module", "rtc").Msg("mic write RTP error")
	}
	return true
}
