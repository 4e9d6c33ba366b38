package logger

import (
	"strconv"
	"strings"
	"sync"
)

// sampleGate lets keep-out-of-every-of events through. An unset gate
// passes everything; it only thins output when both sides of the ratio
// are positive.
type sampleGate struct {
	mu   sync.Mutex
	keep int
	of   int
	seen int
}

func newSampleGate(keep, of int) *sampleGate {
	g := &sampleGate{}
	g.Set(keep, of)
	return g
}

// Set replaces the ratio and restarts the cycle.
func (g *sampleGate) Set(keep, of int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if keep <= 0 || of <= 0 {
		g.keep, g.of, g.seen = 0, 0, 0
		return
	}
	if keep > of {
		keep = of
	}
	g.keep, g.of, g.seen = keep, of, 0
}

// Allow reports whether the current event falls inside the kept slice of
// the cycle.
func (g *sampleGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.of <= 0 {
		return true
	}
	g.seen++
	if g.seen > g.of {
		g.seen = 1
	}
	return g.seen <= g.keep
}

// parseSampleSpec understands "1/50" and plain "50" (one out of fifty).
func parseSampleSpec(spec string) (keep, of int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, found := strings.Cut(spec, "/"); found {
		k, err1 := strconv.Atoi(strings.TrimSpace(num))
		o, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return k, o
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
