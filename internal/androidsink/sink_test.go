package androidsink

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

func TestSinkNode_SkipMediaDataFlushesWindow(t *testing.T) {
	s := NewSinkNode(false)
	obs := &captureObserver{}
	s.SetObserver(obs)

	released := map[int64]bool{}
	enqueue := func(ts int64) {
		s.Enqueue(node.MediaBuffer{TimestampMS: ts, Release: func() { released[ts] = true }})
	}
	enqueue(1000)
	enqueue(2000)
	enqueue(3000)

	_, err := s.SkipMediaData(context.Background(), 1500, 2500, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.QueueDepth())
	assert.True(t, released[2000], "flushed buffer must be released back to its pool")
	assert.False(t, released[1000])
	assert.False(t, released[3000])

	require.Len(t, obs.responses, 1)
	assert.Equal(t, node.Success, obs.responses[0].Status)
	assert.Equal(t, 1, obs.responses[0].Param)
}

func TestSinkNode_RenderSkippedKeepsWindowQueued(t *testing.T) {
	s := NewSinkNode(true)
	s.SetObserver(&captureObserver{})

	s.Enqueue(node.MediaBuffer{TimestampMS: 1000})
	s.Enqueue(node.MediaBuffer{TimestampMS: 2000})

	_, err := s.SkipMediaData(context.Background(), 0, 3000, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.QueueDepth())
}

func TestSinkNode_DequeueRespectsRunningState(t *testing.T) {
	s := NewSinkNode(false)
	s.SetObserver(&captureObserver{})
	s.Enqueue(node.MediaBuffer{TimestampMS: 500})

	_, ok := s.Dequeue()
	assert.False(t, ok, "a sink that was never started must not render")

	_, _ = s.Start(context.Background(), nil)
	buf, ok := s.Dequeue()
	require.True(t, ok)
	assert.EqualValues(t, 500, buf.TimestampMS)

	_, ok = s.Dequeue()
	assert.False(t, ok)
}

func TestSinkNode_StopFlushesQueue(t *testing.T) {
	s := NewSinkNode(false)
	s.SetObserver(&captureObserver{})

	released := 0
	s.Enqueue(node.MediaBuffer{TimestampMS: 1, Release: func() { released++ }})
	s.Enqueue(node.MediaBuffer{TimestampMS: 2, Release: func() { released++ }})

	_, err := s.Stop(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.QueueDepth())
	assert.Equal(t, 2, released)
}

func TestSinkNode_QueryInterfacePublishesSkip(t *testing.T) {
	s := NewSinkNode(false)
	obs := &captureObserver{}
	s.SetObserver(obs)

	_, err := s.QueryInterface(context.Background(), node.UUIDSkipMediaData, nil)
	require.NoError(t, err)
	require.Len(t, obs.responses, 1)
	require.Equal(t, node.Success, obs.responses[0].Status)

	_, ok := obs.responses[0].Param.(node.SkipMediaDataInterface)
	assert.True(t, ok)

	_, err = s.QueryInterface(context.Background(), node.UUIDDRMLicense, nil)
	require.NoError(t, err)
	assert.Equal(t, node.ErrNotSupported, obs.responses[1].Status)
}
