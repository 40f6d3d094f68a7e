package core

import "sync"

// Key code definitions, only the keys the engine binds.
type KeyCode uint16

const (
	KEY_UNKNOWN KeyCode = 0x00
	KEY_ENTER   KeyCode = 0x0D
	KEY_ESCAPE  KeyCode = 0x1B
	KEY_SPACE   KeyCode = 0x20
	KEY_R       KeyCode = 0x52
	KEY_V       KeyCode = 0x56
	KEY_F1      KeyCode = 0x70
	KEYS_MAX_KEYS
)

type KeyboardState struct {
	Keys [256]bool
}

// InputState holds current and previous keyboard states.
type InputState struct {
	mu       sync.Mutex
	current  KeyboardState
	previous KeyboardState
}

func NewInputState() *InputState {
	return &InputState{}
}

// Update copies the current state into the previous one. Call once per frame after
// all input was processed.
func (s *InputState) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = s.current
}

func (s *InputState) IsKeyDown(key KeyCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Keys[key]
}

func (s *InputState) WasKeyDown(key KeyCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous.Keys[key]
}

// ProcessKey records a key transition and fires the matching event. Repeated
// reports of the same state are ignored.
func (s *InputState) ProcessKey(key KeyCode, pressed bool) {
	s.mu.Lock()
	if s.current.Keys[key] == pressed {
		s.mu.Unlock()
		return
	}
	s.current.Keys[key] = pressed
	s.mu.Unlock()

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	EventFire(EventContext{
		Type: code,
		Data: &KeyEvent{
			KeyCode: key,
		},
	})
}
