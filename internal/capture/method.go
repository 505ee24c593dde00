package capture

// method identifies one way of producing frames for a device, in fallback
// order (spec.md §4.4).
type method int

const (
	methodStream method = iota
	methodHWEncode
	methodSWEncode
	methodScreenshotLoop
	methodCount
)

func (m method) String() string {
	switch m {
	case methodStream:
		return "stream"
	case methodHWEncode:
		return "hw-encode"
	case methodSWEncode:
		return "sw-encode"
	case methodScreenshotLoop:
		return "screenshot-loop"
	default:
		return "unknown"
	}
}

// disqualification is a bitset of methods that have failed for a single
// capture service's lifetime. A fresh service (after eviction and
// re-acquisition) starts with a clean bitset — spec.md §4.4's "fresh
// attempt budget" per new service instance.
type disqualification uint8

func (d disqualification) has(m method) bool {
	return d&(1<<m) != 0
}

func (d disqualification) with(m method) disqualification {
	return d | (1 << m)
}

// nextMethod returns the first non-disqualified method at or after start,
// and ok=false once every method has failed.
func nextMethod(start method, dq disqualification) (method, bool) {
	for m := start; m < methodCount; m++ {
		if !dq.has(m) {
			return m, true
		}
	}
	return 0, false
}
