package object

import "time"

// Timer is a callback scheduled against one object.
type Timer struct {
	obj            *Object
	id             uint64
	t              *time.Timer
	cancelOnDetach bool
}

// Schedule runs fn(o) once after d. Timers scheduled with cancelOnDetach
// are stopped when o is detached; every pending timer is stopped when o is
// destroyed.
func (o *Object) Schedule(d time.Duration, fn func(*Object), cancelOnDetach bool) *Timer {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timerSeq++
	tm := &Timer{obj: o, id: o.timerSeq, cancelOnDetach: cancelOnDetach}
	if o.timers == nil {
		o.timers = make(map[uint64]*Timer)
	}
	o.timers[tm.id] = tm
	tm.t = time.AfterFunc(d, func() {
		o.mu.Lock()
		_, live := o.timers[tm.id]
		delete(o.timers, tm.id)
		o.mu.Unlock()
		if live {
			fn(o)
		}
	})
	return tm
}

// Stop cancels the timer and reports whether it was still pending.
func (tm *Timer) Stop() bool {
	o := tm.obj
	o.mu.Lock()
	_, live := o.timers[tm.id]
	delete(o.timers, tm.id)
	o.mu.Unlock()
	return tm.t.Stop() && live
}

// PendingTimers returns the number of timers that have not fired.
func (o *Object) PendingTimers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.timers)
}

func (o *Object) cancelDetachTimers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, tm := range o.timers {
		if tm.cancelOnDetach {
			tm.t.Stop()
			delete(o.timers, id)
		}
	}
}
