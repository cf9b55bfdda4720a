package capture

// Backend is a capture source. All methods except those documented
// otherwise are called from the consumer goroutine.
type Backend interface {
	// Initialize resets properties to the backend's defaults, acquires the
	// device and starts capturing.
	Initialize() error
	// Release stops capturing and frees the device.
	Release() error
	// DeviceProperty returns the value stored for key, or the zero Value.
	DeviceProperty(key string) Value
	// SetDeviceProperty stores v under key and runs the key's side
	// effects. It returns false if the backend rejected the value.
	SetDeviceProperty(key string, v Value) bool
	// ProcessNextEvent drains at most one pending event. It never blocks.
	// Callers hold the core's lock.
	ProcessNextEvent() Event
	// FrameBuffer returns the shared frame record.
	FrameBuffer() *Frame
	// DroppedFrameCount returns the total frames overwritten before the
	// consumer drained them.
	DroppedFrameCount() uint
}

// Named is implemented by backends that report a display name.
type Named interface {
	Name() string
}

// Base implements the property and frame accessors of Backend on top of a
// Core. Backends embed it and add their own lifecycle.
type Base struct {
	Core *Core
}

// DeviceProperty implements Backend.
func (b Base) DeviceProperty(key string) Value {
	return b.Core.Properties().Get(key)
}

// SetDeviceProperty implements Backend.
func (b Base) SetDeviceProperty(key string, v Value) bool {
	return b.Core.Properties().Set(key, v)
}

// FrameBuffer implements Backend.
func (b Base) FrameBuffer() *Frame {
	return b.Core.Frame()
}

// DroppedFrameCount implements Backend.
func (b Base) DroppedFrameCount() uint {
	return b.Core.DroppedFrames()
}
