package core

import (
	"sync"
)

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01
	// Keyboard key pressed. Data: *KeyEvent
	EVENT_CODE_KEY_PRESSED EventCode = 0x02
	// Keyboard key released. Data: *KeyEvent
	EVENT_CODE_KEY_RELEASED EventCode = 0x03
	// Resized/resolution changed from the OS. Data: *SystemEvent
	EVENT_CODE_RESIZED EventCode = 0x08
	// The user asked to flip vertical sync. Data: *RendererEvent
	EVENT_CODE_VSYNC_TOGGLE EventCode = 0x09
	// The configuration file changed on disk. Data: *FileEvent
	EVENT_CODE_CONFIG_CHANGED EventCode = 0x0A
	// A compiled shader changed on disk. Data: *FileEvent
	EVENT_CODE_SHADERS_CHANGED EventCode = 0x0B

	MAX_EVENT_CODE EventCode = 0xFF
)

type KeyEvent struct {
	KeyCode KeyCode
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

type RendererEvent struct {
	VSync bool
}

type FileEvent struct {
	Path string
}

type EventContext struct {
	Type EventCode
	Data interface{}
}

type FnOnEvent func(context EventContext)

type eventSystemState struct {
	mu         sync.RWMutex
	registered map[EventCode][]FnOnEvent
	queue      chan EventContext
	done       chan struct{}
	closeOnce  sync.Once
}

var eventMu sync.Mutex
var eventState *eventSystemState

const eventQueueSize = 256

// EventSystemInitialize prepares the global event bus. Calling it twice is a no-op
// that returns false.
func EventSystemInitialize() bool {
	eventMu.Lock()
	defer eventMu.Unlock()
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{
		registered: make(map[EventCode][]FnOnEvent),
		queue:      make(chan EventContext, eventQueueSize),
		done:       make(chan struct{}),
	}
	return true
}

func EventSystemShutdown() error {
	eventMu.Lock()
	defer eventMu.Unlock()
	if eventState == nil {
		return nil
	}
	eventState.closeOnce.Do(func() { close(eventState.done) })
	eventState = nil
	return nil
}

func currentEventState() *eventSystemState {
	eventMu.Lock()
	defer eventMu.Unlock()
	return eventState
}

// EventRegister adds a listener for code. Listeners are called in registration order.
func EventRegister(code EventCode, onEvent FnOnEvent) bool {
	s := currentEventState()
	if s == nil || onEvent == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[code] = append(s.registered[code], onEvent)
	return true
}

// EventUnregisterAll drops every listener of code.
func EventUnregisterAll(code EventCode) bool {
	s := currentEventState()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.registered[code]) == 0 {
		return false
	}
	delete(s.registered, code)
	return true
}

// EventFire queues an event for ProcessEvents. It never blocks the caller: when the
// queue is full the event is dropped and false is returned.
func EventFire(context EventContext) bool {
	s := currentEventState()
	if s == nil {
		return false
	}
	select {
	case s.queue <- context:
		return true
	default:
		LogWarn("event queue full, dropping event %d", context.Type)
		return false
	}
}

// ProcessEvents dispatches queued events until the event system shuts down.
// It is meant to run on its own goroutine.
func ProcessEvents() {
	s := currentEventState()
	if s == nil {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case ctx := <-s.queue:
			s.dispatch(ctx)
		}
	}
}

// EventDrain dispatches whatever is queued right now on the calling goroutine.
func EventDrain() {
	s := currentEventState()
	if s == nil {
		return
	}
	for {
		select {
		case ctx := <-s.queue:
			s.dispatch(ctx)
		default:
			return
		}
	}
}

func (s *eventSystemState) dispatch(ctx EventContext) {
	s.mu.RLock()
	listeners := append([]FnOnEvent(nil), s.registered[ctx.Type]...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}
