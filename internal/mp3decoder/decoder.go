package mp3decoder

import (
	"context"
	"sync"

	"github.com/hbomb79/pvplayer/internal/mempool"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/pkg/worker"
)

const (
	// pcmFrameBytes is one decoded MPEG-1 Layer III frame: 1152 samples,
	// 16-bit stereo.
	pcmFrameBytes = 1152 * 2 * 2

	decodePoolBufferSize = 64 * 1024
	decodePoolBuffers    = 4
	decodeBatchFrames    = 8
)

// DecoderNode decodes MP3 frames into PCM buffers drawn from a resizable
// block pool. The decode math itself lives in an external codec; this node
// owns the node-contract surface and the buffer lifecycle: allocate from the
// pool, hand downstream, reclaim via the buffer's Release.
//
// Decode work runs on a dedicated worker goroutine woken whenever the node is
// running, so a slow sink applies back-pressure through the pool (allocation
// fails, the worker registers a free-block waiter and sleeps).
type DecoderNode struct {
	node.Completer

	pool   *mempool.ResizableBlockAllocator
	wp     *worker.WorkerPool
	wakeup worker.WorkerWakeupChan

	mu       sync.Mutex
	running  bool
	output   func(node.MediaBuffer)
	nextTS   int64
	started  bool
	shutdown bool
}

func NewDecoderNode() *DecoderNode {
	d := &DecoderNode{
		pool:   mempool.NewResizableBlockAllocator(decodePoolBufferSize, decodePoolBuffers, decodeBatchFrames),
		wp:     worker.NewWorkerPool(),
		wakeup: make(worker.WorkerWakeupChan),
	}
	return d
}

// SetOutput installs the downstream consumer for decoded buffers - the sink
// leg of this node's datapath. Must be set before Start.
func (d *DecoderNode) SetOutput(fn func(node.MediaBuffer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = fn
}

func (d *DecoderNode) complete(cmdCtx any) (node.CmdID, error) {
	id := d.NextCmdID()
	d.Complete(id, node.Success, nil, cmdCtx)
	return id, nil
}

func (d *DecoderNode) QueryUuid(_ context.Context, _ string, _ bool, cmdCtx any) (node.CmdID, error) {
	id := d.NextCmdID()
	d.Complete(id, node.Success, []node.UUID{}, cmdCtx)
	return id, nil
}

func (d *DecoderNode) QueryInterface(_ context.Context, _ node.UUID, cmdCtx any) (node.CmdID, error) {
	id := d.NextCmdID()
	d.Complete(id, node.ErrNotSupported, nil, cmdCtx)
	return id, nil
}

func (d *DecoderNode) Init(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return d.complete(cmdCtx)
}

// Prepare spins up the decode worker, asleep until Start.
func (d *DecoderNode) Prepare(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.mu.Lock()
	if !d.started {
		d.started = true
		_ = d.wp.PushWorker(worker.NewWorker("mp3-decode", &decodeTask{node: d}, 0, d.wakeup))
		_ = d.wp.Start()
	}
	d.mu.Unlock()

	return d.complete(cmdCtx)
}

func (d *DecoderNode) Start(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.setRunning(true)
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Pause(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.setRunning(false)
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Resume(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.setRunning(true)
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Stop(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.setRunning(false)
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Reset(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.mu.Lock()
	d.running = false
	d.nextTS = 0
	if d.started && !d.shutdown {
		d.shutdown = true
		d.wp.Close()
	}
	d.mu.Unlock()

	if cmdCtx == nil {
		return d.NextCmdID(), nil
	}
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Flush(_ context.Context, cmdCtx any) (node.CmdID, error) {
	d.mu.Lock()
	d.nextTS = 0
	d.mu.Unlock()
	return d.complete(cmdCtx)
}

func (d *DecoderNode) CancelAll(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return d.complete(cmdCtx)
}

func (d *DecoderNode) Cancel(_ context.Context, _ node.CmdID, cmdCtx any) (node.CmdID, error) {
	return d.complete(cmdCtx)
}

func (d *DecoderNode) setRunning(running bool) {
	d.mu.Lock()
	d.running = running
	d.mu.Unlock()

	if running {
		_ = d.wp.WakeupWorkers()
	}
}

// decodeTask is the worker loop: while the node is running, pull a PCM
// buffer from the pool, hand one decoded frame batch downstream, repeat;
// otherwise sleep until woken.
type decodeTask struct {
	node *DecoderNode
}

func (t *decodeTask) Execute(w worker.Worker) error {
	for {
		d := t.node

		d.mu.Lock()
		running, output := d.running, d.output
		d.mu.Unlock()

		if !running || output == nil {
			if !w.Sleep() {
				return nil
			}
			continue
		}

		blk, err := d.pool.Allocate(pcmFrameBytes * decodeBatchFrames)
		if err != nil {
			// Pool exhausted: the sink still holds every outstanding
			// buffer. Park until one comes back.
			wake := make(chan struct{}, 1)
			d.pool.NotifyFreeBlockAvailable(func(any) { wake <- struct{}{} }, pcmFrameBytes*decodeBatchFrames, nil)
			<-wake
			continue
		}

		d.mu.Lock()
		ts := d.nextTS
		d.nextTS += frameDurationMS * decodeBatchFrames
		d.mu.Unlock()

		// The codec would fill blk here; without it the PCM stays silent.
		pcm := blk.Bytes()[:pcmFrameBytes*decodeBatchFrames]
		for i := range pcm {
			pcm[i] = 0
		}

		output(node.MediaBuffer{
			Data:        pcm,
			TimestampMS: ts,
			Release:     func() { _ = d.pool.Deallocate(blk) },
		})
	}
}
