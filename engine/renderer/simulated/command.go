package simulated

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type bufferState uint8

const (
	stateInitial bufferState = iota
	stateRecording
	stateExecutable
	statePending
	stateInvalid
)

func (s bufferState) String() string {
	switch s {
	case stateRecording:
		return "recording"
	case stateExecutable:
		return "executable"
	case statePending:
		return "pending"
	case stateInvalid:
		return "invalid"
	}
	return "initial"
}

type CommandKind uint8

const (
	CmdBarrier CommandKind = iota
	CmdBufferBarrier
	CmdBindRenderTarget
	CmdUnbindRenderTarget
	CmdSetViewport
	CmdSetScissor
	CmdBindPipeline
	CmdDraw
	CmdUpdateBuffer
)

// Command is one recorded GPU command. Only the fields of its Kind are set.
type Command struct {
	Kind        CommandKind
	Target      uint32
	From, To    gpu.ResourceState
	Load        gpu.LoadAction
	Clear       gpu.Color
	Viewport    gpu.Viewport
	Scissor     gpu.Rect
	Pipeline    string
	VertexCount uint32
	FirstVertex uint32

	buffer *Buffer
	offset uint64
	data   []byte
}

type CommandPool struct {
	dev       *Device
	id        uuid.UUID
	buffers   []*CommandBuffer
	destroyed bool
}

func (p *CommandPool) String() string {
	return "cmdpool-" + p.id.String()[:8]
}

func (p *CommandPool) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if err := p.dev.checkLocked(); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{pool: p, id: uuid.New()}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Reset returns every buffer of the pool to the initial state.
func (p *CommandPool) Reset() error {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if err := p.dev.checkLocked(); err != nil {
		return err
	}
	for _, cb := range p.buffers {
		if cb.state == statePending {
			return fmt.Errorf("%w: %s has %s still executing", core.ErrResourceInUse, p, cb)
		}
	}
	for _, cb := range p.buffers {
		cb.state = stateInitial
		cb.commands = cb.commands[:0]
		cb.misuse = false
	}
	p.dev.stats.PoolResets++
	return nil
}

func (p *CommandPool) Destroy() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	for _, cb := range p.buffers {
		if cb.state == statePending && !p.dev.lost {
			panic(fmt.Sprintf("simulated: %s destroyed while %s is in flight", p, cb))
		}
	}
	p.buffers = nil
	p.destroyed = true
}

type CommandBuffer struct {
	pool     *CommandPool
	id       uuid.UUID
	state    bufferState
	commands []Command
	misuse   bool
}

func (cb *CommandBuffer) String() string {
	return "cmd-" + cb.id.String()[:8]
}

// Commands returns a copy of what was recorded since the last pool reset.
func (cb *CommandBuffer) Commands() []Command {
	cb.pool.dev.mu.Lock()
	defer cb.pool.dev.mu.Unlock()
	return append([]Command(nil), cb.commands...)
}

func (cb *CommandBuffer) Begin() error {
	d := cb.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	if cb.state != stateInitial {
		return fmt.Errorf("%w: begin on %s in state %s", core.ErrRecording, cb, cb.state)
	}
	cb.state = stateRecording
	return nil
}

func (cb *CommandBuffer) End() error {
	d := cb.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	if cb.state != stateRecording {
		return fmt.Errorf("%w: end on %s in state %s", core.ErrRecording, cb, cb.state)
	}
	if cb.misuse {
		cb.state = stateInvalid
		return fmt.Errorf("%w: %s received commands outside begin/end", core.ErrRecording, cb)
	}
	if d.failRecording > 0 {
		d.failRecording--
		cb.state = stateInvalid
		return fmt.Errorf("%w: %s injected failure", core.ErrRecording, cb)
	}
	cb.state = stateExecutable
	return nil
}

func (cb *CommandBuffer) record(c Command) {
	d := cb.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.state != stateRecording {
		cb.misuse = true
		return
	}
	cb.commands = append(cb.commands, c)
}

func (cb *CommandBuffer) ResourceBarrier(rt gpu.RenderTarget, from, to gpu.ResourceState) {
	cb.record(Command{Kind: CmdBarrier, Target: rt.Index(), From: from, To: to})
}

func (cb *CommandBuffer) BufferBarrier(buf gpu.Buffer, from, to gpu.ResourceState) {
	cb.record(Command{Kind: CmdBufferBarrier, From: from, To: to})
}

func (cb *CommandBuffer) BindRenderTarget(rt gpu.RenderTarget, load gpu.LoadAction, clear gpu.Color) {
	if rt == nil {
		cb.record(Command{Kind: CmdUnbindRenderTarget})
		return
	}
	cb.record(Command{Kind: CmdBindRenderTarget, Target: rt.Index(), Load: load, Clear: clear})
}

func (cb *CommandBuffer) SetViewport(v gpu.Viewport) {
	cb.record(Command{Kind: CmdSetViewport, Viewport: v})
}

func (cb *CommandBuffer) SetScissor(r gpu.Rect) {
	cb.record(Command{Kind: CmdSetScissor, Scissor: r})
}

func (cb *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	cb.record(Command{Kind: CmdBindPipeline, Pipeline: p.Name()})
}

func (cb *CommandBuffer) Draw(vertexCount, firstVertex uint32) {
	cb.record(Command{Kind: CmdDraw, VertexCount: vertexCount, FirstVertex: firstVertex})
}

func (cb *CommandBuffer) UpdateBuffer(dst gpu.Buffer, offset uint64, data []byte) {
	b, _ := dst.(*Buffer)
	if b == nil || offset+uint64(len(data)) > uint64(len(b.data)) {
		cb.pool.dev.mu.Lock()
		cb.misuse = true
		cb.pool.dev.mu.Unlock()
		return
	}
	cb.record(Command{Kind: CmdUpdateBuffer, buffer: b, offset: offset, data: append([]byte(nil), data...)})
}

// execute applies the side effects of the recorded commands. Called with the
// device lock held when the submission completes.
func (cb *CommandBuffer) execute() {
	for _, c := range cb.commands {
		if c.Kind == CmdUpdateBuffer {
			copy(c.buffer.data[c.offset:], c.data)
		}
	}
}
