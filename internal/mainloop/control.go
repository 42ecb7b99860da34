// Package mainloop keeps exactly one audio worker alive: the supervisor
// spawns, restarts and stops it, the worker runs the per-tick pipeline.
package mainloop

import (
	"fmt"
	"sync/atomic"
)

// ControlValue is the state word shared by the supervisor and the worker.
type ControlValue uint32

const (
	Continue ControlValue = iota
	Abort
	Aborted
	Crashed
	Reload
)

var controlNames = [...]string{
	Continue: "continue",
	Abort:    "abort",
	Aborted:  "aborted",
	Crashed:  "crashed",
	Reload:   "reload",
}

func (v ControlValue) String() string {
	if int(v) < len(controlNames) {
		return controlNames[v]
	}
	return fmt.Sprintf("control(%d)", uint32(v))
}

// Control is a lock-free ControlValue.
type Control struct {
	v atomic.Uint32
}

func (c *Control) Load() ControlValue       { return ControlValue(c.v.Load()) }
func (c *Control) Store(v ControlValue)     { c.v.Store(uint32(v)) }
func (c *Control) CompareAndSwap(old, next ControlValue) bool {
	return c.v.CompareAndSwap(uint32(old), uint32(next))
}
