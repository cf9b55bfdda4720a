// Package capture is the backend-independent capture core.
//
// A Core owns one backend instance's property store, event flags, frame
// buffer and deferred task queue. Two parties share it:
//
//   - the capture activity, a background goroutine started through an
//     Activity, which writes frames with Core.Produce and raises flags;
//   - the consumer, a single goroutine that brackets each tick with
//     Core.Lock and Core.Unlock and drains one event per tick.
//
// Property writes that need to stop and restart capture queue a task with
// Core.Defer. Unlock runs queued tasks after releasing the mutex, so a
// task can join the capture activity without deadlocking against it.
//
// # Event priority
//
//	unrecoverable_error > invalid_device > signal_gained > signal_lost >
//	invalid_signal > (device ready only) new_video_mode > new_frame
//
// With nothing urgent pending and the device not ready, a drain returns
// EventSleep; with nothing pending at all it returns EventNone.
package capture
