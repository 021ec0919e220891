package mp3decoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbomb79/pvplayer/internal/node"
)

type captureObserver struct {
	responses []node.CmdResponse
}

func (o *captureObserver) NodeCommandCompleted(resp node.CmdResponse) {
	o.responses = append(o.responses, resp)
}
func (o *captureObserver) HandleNodeInfoEvent(node.InfoEvent)   {}
func (o *captureObserver) HandleNodeErrorEvent(node.ErrorEvent) {}

func TestRecognizer_MP3ByExtension(t *testing.T) {
	mime, err := Recognizer{}.Recognize("/media/clips/song.MP3")
	require.NoError(t, err)
	assert.Equal(t, MimeTypeMP3, mime)

	_, err = Recognizer{}.Recognize("/media/clips/video.mp4")
	assert.Error(t, err)
}

func TestSourceNode_TrackList(t *testing.T) {
	src := NewSourceNode(240_000)
	obs := &captureObserver{}
	src.SetObserver(obs)

	_, err := src.GetTrackList(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, obs.responses, 1)
	tracks := obs.responses[0].Param.([]node.TrackInfo)
	require.Len(t, tracks, 1)
	assert.Equal(t, MimeTypeMP3, tracks[0].MimeType)
	assert.EqualValues(t, 240_000, tracks[0].Duration)
	assert.True(t, tracks[0].Selectable)
}

func TestSourceNode_GetActualNPTSnapsToFrameBoundary(t *testing.T) {
	src := NewSourceNode(0)
	obs := &captureObserver{}
	src.SetObserver(obs)

	_, err := src.GetActualNPT(context.Background(), 30_000, nil)
	require.NoError(t, err)

	snapped := obs.responses[0].Param.(int64)
	assert.EqualValues(t, 29_978, snapped)
	assert.Zero(t, snapped%frameDurationMS)
}

func TestSourceNode_SetPositionReportsSkipWindow(t *testing.T) {
	src := NewSourceNode(0)
	obs := &captureObserver{}
	src.SetObserver(obs)

	_, err := src.SetDataSourcePosition(context.Background(), 10_000, true, true, nil)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{0, 10_000}, obs.responses[0].Param)

	_, err = src.SetDataSourcePosition(context.Background(), 4_000, true, true, nil)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{10_000, 4_000}, obs.responses[1].Param)
}

func TestSourceNode_QueryInterface(t *testing.T) {
	src := NewSourceNode(0)
	obs := &captureObserver{}
	src.SetObserver(obs)

	_, err := src.QueryInterface(context.Background(), node.UUIDPlaybackControl, nil)
	require.NoError(t, err)
	_, ok := obs.responses[0].Param.(node.PlaybackControlInterface)
	assert.True(t, ok)

	_, err = src.QueryInterface(context.Background(), node.UUIDSkipMediaData, nil)
	require.NoError(t, err)
	assert.Equal(t, node.ErrNotSupported, obs.responses[1].Status)
}

func TestSourceNode_SelectTracksRejectsUnknownID(t *testing.T) {
	src := NewSourceNode(0)
	obs := &captureObserver{}
	src.SetObserver(obs)

	_, err := src.SelectTracks(context.Background(), []int{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, node.Success, obs.responses[0].Status)

	_, err = src.SelectTracks(context.Background(), []int{3}, nil)
	require.NoError(t, err)
	assert.Equal(t, node.ErrArgument, obs.responses[1].Status)
}
