package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromURLs(t *testing.T) {
	assert.Equal(t, DefaultWebRTCConfig(), ConfigFromURLs(nil))

	cfg := ConfigFromURLs([]string{"stun:a:3478", "turn:b:3478"})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"turn:b:3478"}, cfg.ICEServers[1].URLs)
}

func TestPeerNegotiation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	peer, err := NewPeer(webrtc.Configuration{})
	require.NoError(t, err)
	defer peer.Close()
	peer.Start(ctx)

	mic, err := NewMicTrack(nil)
	require.NoError(t, err)
	_, err = peer.AddTrack(mic.Track)
	require.NoError(t, err)

	offer, err := peer.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "opus")

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer remote.Close()
	require.NoError(t, remote.SetRemoteDescription(*offer))
	answer, err := remote.CreateAnswer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(remote)
	require.NoError(t, remote.SetLocalDescription(answer))
	<-gather

	require.NoError(t, peer.ApplyAnswer(*remote.LocalDescription()))
	assert.NotEqual(t, webrtc.PeerConnectionStateClosed, peer.State())

	peer.Close()
	peer.Close()
	assert.Equal(t, webrtc.PeerConnectionStateClosed, peer.State())
}
