package powerseq

import (
	"runtime"
	"sync/atomic"
)

// spinlock never sleeps; waiters only yield their slot.
type spinlock struct {
	held atomic.Bool
}

func (l *spinlock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) Unlock() {
	l.held.Store(false)
}
