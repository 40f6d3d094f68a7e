// Package simulated is a GPU that lives in process memory. It honours the same
// ordering rules as a real queue (binary semaphores, fences, FIFO presentation)
// and lets callers decide when work completes.
package simulated

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/renderer/gpu"
)

type Mode uint8

const (
	// ModeImmediate completes a submission as soon as its waits are satisfied.
	ModeImmediate Mode = iota
	// ModeManual completes submissions only when Complete, CompleteNext or
	// CompleteAll is called, in any order the caller likes.
	ModeManual
	// ModeAsync runs a GPU goroutine that completes submissions in order after Latency.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAsync:
		return "async"
	}
	return "immediate"
}

// ParseMode maps configuration names to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "immediate":
		return ModeImmediate, nil
	case "manual":
		return ModeManual, nil
	case "async":
		return ModeAsync, nil
	}
	return ModeImmediate, fmt.Errorf("%w: unknown simulated mode %q", core.ErrConfiguration, s)
}

type Options struct {
	Name    string
	Mode    Mode
	Latency time.Duration
	// ImageCount overrides the recommended swapchain image count.
	ImageCount uint32
}

type Stats struct {
	Acquires         uint64
	Submits          uint64
	Presents         uint64
	WaitIdles        uint64
	SwapchainCreates uint64
	PipelineCreates  uint64
	PoolResets       uint64
	Completions      uint64
}

// Display is one image handed to the screen by the presentation engine.
type Display struct {
	Swapchain  uint32
	ImageIndex uint32
	// Submission is the id of the work the present waited on, 0 when it waited on nothing.
	Submission uint64
}

type Device struct {
	mu   sync.Mutex
	cond *sync.Cond
	wg   sync.WaitGroup

	id   uuid.UUID
	opts Options

	lost      bool
	lostCh    chan struct{}
	destroyed bool

	nextSubmission  uint64
	pending         []*submission
	swapchains      map[*Swapchain]struct{}
	swapchainGen    uint32
	failRecording   int
	failSwapchain   int
	displayed       []Display
	completionOrder []uint64
	stats           Stats
}

func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "simulated"
	}
	d := &Device{
		id:         uuid.New(),
		opts:       opts,
		lostCh:     make(chan struct{}),
		swapchains: make(map[*Swapchain]struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	if opts.Mode == ModeAsync {
		d.wg.Add(1)
		go d.run()
	}
	core.LogDebug("simulated device %s created (mode=%s, latency=%s)", d.id, opts.Mode, opts.Latency)
	return d
}

func (d *Device) Name() string {
	return d.opts.Name
}

func (d *Device) Mode() Mode {
	return d.opts.Mode
}

func (d *Device) CreateQueue(t gpu.QueueType) (gpu.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	return &Queue{dev: d, kind: t, id: uuid.New()}, nil
}

func (d *Device) CreateFence() (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	return &Fence{dev: d, id: uuid.New(), done: make(chan struct{})}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, id: uuid.New()}, nil
}

func (d *Device) CreateCommandPool(q gpu.Queue) (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	if _, ok := q.(*Queue); !ok {
		return nil, fmt.Errorf("%w: command pool needs a simulated queue, got %T", core.ErrDeviceError, q)
	}
	return &CommandPool{dev: d, id: uuid.New()}, nil
}

func (d *Device) CreateBuffer(size uint64) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized buffer", core.ErrDeviceError)
	}
	return &Buffer{dev: d, id: uuid.New(), data: make([]byte, size)}, nil
}

func (d *Device) CreatePipeline(desc *gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return nil, err
	}
	sc, ok := desc.Swapchain.(*Swapchain)
	if !ok || sc.destroyed {
		return nil, fmt.Errorf("%w: pipeline %q needs a live swapchain", core.ErrDeviceError, desc.Name)
	}
	d.stats.PipelineCreates++
	return &Pipeline{dev: d, id: uuid.New(), name: desc.Name, format: sc.desc.Format}, nil
}

func (d *Device) RecommendedSwapchainImageCount(vsync bool) uint32 {
	if d.opts.ImageCount != 0 {
		return d.opts.ImageCount
	}
	if vsync {
		return 2
	}
	return 3
}

func (d *Device) SupportedSwapchainFormat(cs gpu.ColorSpace) gpu.Format {
	if cs == gpu.ColorSpaceHDR10 {
		return gpu.FormatA2B10G10R10Unorm
	}
	return gpu.FormatB8G8R8A8Srgb
}

// Destroy stops the GPU goroutine. Work still in flight at this point is a bug
// in the caller, unless the device was lost.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	if len(d.pending) > 0 && !d.lost {
		d.mu.Unlock()
		panic(fmt.Sprintf("simulated: device destroyed with %d submissions in flight", len(d.pending)))
	}
	d.destroyed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

// Lose puts the device in the lost state. Every later call fails with
// core.ErrDeviceLost and blocked fence waits return.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return
	}
	d.lost = true
	close(d.lostCh)
	d.cond.Broadcast()
}

// FailRecording makes the next n command buffer End calls fail.
func (d *Device) FailRecording(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRecording = n
}

// FailSwapchainCreation makes the next n CreateSwapchain calls fail.
func (d *Device) FailSwapchainCreation(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSwapchain = n
}

// InvalidateSwapchains marks every live swapchain out of date, like a window
// resize would.
func (d *Device) InvalidateSwapchains() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sc := range d.swapchains {
		sc.outOfDate = true
	}
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) Displayed() []Display {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Display(nil), d.displayed...)
}

// CompletionOrder lists submission ids in the order the GPU finished them.
func (d *Device) CompletionOrder() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.completionOrder...)
}

// Pending lists the ids of submissions that have not completed, oldest first.
func (d *Device) Pending() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint64, 0, len(d.pending))
	for _, s := range d.pending {
		ids = append(ids, s.id)
	}
	return ids
}

// Complete finishes submission id. Its waits must already be satisfied.
func (d *Device) Complete(id uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	for _, s := range d.pending {
		if s.id != id {
			continue
		}
		if !s.ready() {
			return fmt.Errorf("%w: submission %d still waits on a semaphore", core.ErrDeviceError, id)
		}
		d.completeLocked(s)
		return nil
	}
	return fmt.Errorf("%w: submission %d is not pending", core.ErrDeviceError, id)
}

// CompleteNext finishes the oldest submission whose waits are satisfied.
func (d *Device) CompleteNext() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return 0, err
	}
	for _, s := range d.pending {
		if s.ready() {
			d.completeLocked(s)
			return s.id, nil
		}
	}
	return 0, fmt.Errorf("%w: no submission can complete", core.ErrDeviceError)
}

// CompleteAll finishes every pending submission in order.
func (d *Device) CompleteAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drainLocked()
}

func (d *Device) checkLocked() error {
	if d.lost {
		return fmt.Errorf("%w: %s", core.ErrDeviceLost, d.opts.Name)
	}
	if d.destroyed {
		return fmt.Errorf("%w: %s destroyed", core.ErrDeviceError, d.opts.Name)
	}
	return nil
}

func (d *Device) drainLocked() error {
	for len(d.pending) > 0 {
		if err := d.checkLocked(); err != nil {
			return err
		}
		progressed := false
		for _, s := range d.pending {
			if s.ready() {
				d.completeLocked(s)
				progressed = true
				break
			}
		}
		if !progressed {
			return fmt.Errorf("%w: %d submissions wait on semaphores nobody signals", core.ErrDeviceError, len(d.pending))
		}
	}
	return nil
}

// progressLocked completes submissions in queue order while the head is ready.
func (d *Device) progressLocked() {
	for len(d.pending) > 0 && d.pending[0].ready() {
		d.completeLocked(d.pending[0])
	}
}

func (d *Device) completeLocked(s *submission) {
	for i, p := range d.pending {
		if p == s {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			break
		}
	}
	for _, w := range s.waits {
		w.sem.waiters--
	}
	for _, cb := range s.cmds {
		cb.execute()
		cb.state = stateExecutable
	}
	for _, op := range s.signals {
		op.done = true
	}
	if s.fence != nil {
		s.fence.signalLocked()
	}
	d.stats.Completions++
	d.completionOrder = append(d.completionOrder, s.id)
	d.presentLocked()
	d.cond.Broadcast()
}

// presentLocked lets every swapchain display the requests at the head of its
// FIFO whose waits are satisfied.
func (d *Device) presentLocked() {
	for sc := range d.swapchains {
		sc.displayLocked()
	}
}

// kickLocked lets the GPU pick up work whose waits may have just been satisfied.
func (d *Device) kickLocked() {
	switch d.opts.Mode {
	case ModeImmediate:
		d.progressLocked()
	case ModeAsync:
		d.cond.Broadcast()
	}
}

// run is the GPU goroutine of ModeAsync.
func (d *Device) run() {
	defer d.wg.Done()
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		for !d.destroyed && !d.lost && (len(d.pending) == 0 || !d.pending[0].ready()) {
			d.cond.Wait()
		}
		if d.destroyed || d.lost {
			return
		}
		s := d.pending[0]
		d.mu.Unlock()
		time.Sleep(d.opts.Latency)
		d.mu.Lock()
		if d.lost || d.destroyed {
			return
		}
		d.completeLocked(s)
	}
}
