package simulated

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type Buffer struct {
	dev  *Device
	id   uuid.UUID
	data []byte
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// Bytes returns a copy of the buffer contents as the GPU sees them.
func (b *Buffer) Bytes() []byte {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Destroy() {}

type Pipeline struct {
	dev       *Device
	id        uuid.UUID
	name      string
	format    gpu.Format
	destroyed bool
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) Destroy() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	p.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (p *Pipeline) Destroyed() bool {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	return p.destroyed
}
