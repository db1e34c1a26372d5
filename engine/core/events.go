package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01

	// Keyboard key pressed.
	/* Context usage:
	 * key := ctx.Data.(*KeyEvent).KeyCode
	 */
	EVENT_CODE_KEY_PRESSED EventCode = 0x02

	// Keyboard key released.
	/* Context usage:
	 * key := ctx.Data.(*KeyEvent).KeyCode
	 */
	EVENT_CODE_KEY_RELEASED EventCode = 0x03

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * se := ctx.Data.(*SystemEvent)
	 * width, height := se.WindowWidth, se.WindowHeight
	 */
	EVENT_CODE_RESIZED EventCode = 0x08

	MAX_EVENT_CODE EventCode = 0xFF

	// Both pipelines are rebuilt from their shader files before the next frame.
	EVENT_CODE_RELOAD_PIPELINES EventCode = MAX_EVENT_CODE + 1
)

type KeyEvent struct {
	KeyCode KeyCode
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

type EventContext struct {
	Type EventCode
	Data interface{}
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	id       uint64
	callback FnOnEvent
}

// State structure.
type eventSystemState struct {
	mutex      sync.Mutex
	nextID     uint64
	registered map[EventCode][]registeredEvent
}

/**
 * Event system internal state.
 */
var eventState *eventSystemState = nil

// EventSystemInitialize resets the registry. It returns false if it is already running.
func EventSystemInitialize() bool {
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{
		registered: make(map[EventCode][]registeredEvent),
	}
	return true
}

func EventSystemShutdown() error {
	eventState = nil
	return nil
}

// EventRegister adds a listener for code and returns a handle for EventUnregister.
// The handle is zero when the system is not running.
func EventRegister(code EventCode, onEvent FnOnEvent) uint64 {
	s := eventState
	if s == nil || onEvent == nil {
		return 0
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	s.registered[code] = append(s.registered[code], registeredEvent{id: s.nextID, callback: onEvent})
	return s.nextID
}

// EventUnregister removes the listener behind handle. It reports false if none matched.
func EventUnregister(code EventCode, handle uint64) bool {
	s := eventState
	if s == nil {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	events := s.registered[code]
	for i, e := range events {
		if e.id == handle {
			s.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	// Not found.
	return false
}

// EventFire calls the listeners of ctx.Type in registration order on the calling
// goroutine. The first listener that returns true stops the dispatch.
func EventFire(ctx EventContext) bool {
	s := eventState
	if s == nil {
		return false
	}
	s.mutex.Lock()
	events := append([]registeredEvent(nil), s.registered[ctx.Type]...)
	s.mutex.Unlock()

	for _, e := range events {
		if e.callback(ctx) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}
