// Package androidsink provides the Android-style surface/audio-track sink
// node. Surface composition and the platform audio track are external
// collaborators; the node owns the command contract, the render queue, and
// the skip-window flush that seeking relies on.
package androidsink

import (
	"context"
	"sync"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("Sink")

// SinkNode queues media buffers for presentation. Producers (a decoder
// worker, or the source directly on pass-through datapaths) enqueue from
// their own goroutines; the render side drains on the platform's cadence.
type SinkNode struct {
	node.Completer

	mu      sync.Mutex
	queue   []node.MediaBuffer
	running bool

	// renderSkipped, when set, presents buffers inside a skip window once
	// before discarding them instead of dropping them outright.
	renderSkipped bool
}

func NewSinkNode(renderSkipped bool) *SinkNode {
	return &SinkNode{renderSkipped: renderSkipped}
}

func (s *SinkNode) complete(cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, nil, cmdCtx)
	return id, nil
}

func (s *SinkNode) QueryUuid(_ context.Context, _ string, _ bool, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, []node.UUID{node.UUIDSkipMediaData}, cmdCtx)
	return id, nil
}

func (s *SinkNode) QueryInterface(_ context.Context, uuid node.UUID, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	if uuid == node.UUIDSkipMediaData {
		s.Complete(id, node.Success, node.SkipMediaDataInterface(s), cmdCtx)
		return id, nil
	}
	s.Complete(id, node.ErrNotSupported, nil, cmdCtx)
	return id, nil
}

func (s *SinkNode) Init(_ context.Context, cmdCtx any) (node.CmdID, error) { return s.complete(cmdCtx) }
func (s *SinkNode) Prepare(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.complete(cmdCtx)
}

func (s *SinkNode) Start(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.setRunning(true)
	return s.complete(cmdCtx)
}

func (s *SinkNode) Pause(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.setRunning(false)
	return s.complete(cmdCtx)
}

func (s *SinkNode) Resume(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.setRunning(true)
	return s.complete(cmdCtx)
}

func (s *SinkNode) Stop(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.setRunning(false)
	s.flushAll()
	return s.complete(cmdCtx)
}

func (s *SinkNode) Reset(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.setRunning(false)
	s.flushAll()
	if cmdCtx == nil {
		return s.NextCmdID(), nil
	}
	return s.complete(cmdCtx)
}

func (s *SinkNode) Flush(_ context.Context, cmdCtx any) (node.CmdID, error) {
	s.flushAll()
	return s.complete(cmdCtx)
}

func (s *SinkNode) CancelAll(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.complete(cmdCtx)
}

func (s *SinkNode) Cancel(_ context.Context, _ node.CmdID, cmdCtx any) (node.CmdID, error) {
	return s.complete(cmdCtx)
}

// SkipMediaData flushes every queued buffer whose timestamp falls inside
// [preSkipTS, postSkipTS) - the stale window of a seek.
func (s *SinkNode) SkipMediaData(_ context.Context, preSkipTS, postSkipTS int64, cmdCtx any) (node.CmdID, error) {
	s.mu.Lock()
	kept := s.queue[:0]
	skipped := 0
	for _, buf := range s.queue {
		if buf.TimestampMS >= preSkipTS && buf.TimestampMS < postSkipTS {
			skipped++
			if s.renderSkipped {
				// Present once before discarding rather than dropping cold.
				kept = append(kept, buf)
				continue
			}
			if buf.Release != nil {
				buf.Release()
			}
			continue
		}
		kept = append(kept, buf)
	}
	s.queue = kept
	s.mu.Unlock()

	log.Debugf("skipped %d buffers in window [%d, %d)\n", skipped, preSkipTS, postSkipTS)

	id := s.NextCmdID()
	s.Complete(id, node.Success, skipped, cmdCtx)
	return id, nil
}

// Enqueue accepts one buffer from the upstream leg. Safe from any goroutine.
func (s *SinkNode) Enqueue(buf node.MediaBuffer) {
	s.mu.Lock()
	s.queue = append(s.queue, buf)
	s.mu.Unlock()
}

// Dequeue hands the platform renderer the next presentable buffer, or false
// when the queue is empty or the sink is paused.
func (s *SinkNode) Dequeue() (node.MediaBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || len(s.queue) == 0 {
		return node.MediaBuffer{}, false
	}
	buf := s.queue[0]
	s.queue = s.queue[1:]
	return buf, true
}

// QueueDepth reports how many buffers await presentation.
func (s *SinkNode) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *SinkNode) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

func (s *SinkNode) flushAll() {
	s.mu.Lock()
	flushed := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, buf := range flushed {
		if buf.Release != nil {
			buf.Release()
		}
	}
}
