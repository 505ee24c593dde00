package connmgr

import "sync/atomic"

// atomicBool is a tiny wrapper so Handle.Closed reads clearly at call
// sites without importing sync/atomic at every use.
type atomicBool struct {
	v atomic.Bool
}

func (b *atomicBool) set(val bool) { b.v.Store(val) }
func (b *atomicBool) get() bool    { return b.v.Load() }
