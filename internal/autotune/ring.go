package autotune

import "time"

// sampleRing is a fixed-capacity ring of measurement values. Capacity is a
// construction-time invariant; once full, each push evicts the oldest
// value.
type sampleRing struct {
	buf   []float64
	start int
	n     int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &sampleRing{buf: make([]float64, capacity)}
}

func (r *sampleRing) push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *sampleRing) at(i int) float64 {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *sampleRing) len() int   { return r.n }
func (r *sampleRing) cap() int   { return len(r.buf) }
func (r *sampleRing) full() bool { return r.n == len(r.buf) }

func (r *sampleRing) reset() {
	r.start = 0
	r.n = 0
}

// Peak is a detected oscillation extremum.
type Peak struct {
	Value float64
	Time  time.Time
}

// peakRing is a fixed-capacity ring of the most recent peaks, oldest
// evicted first.
type peakRing struct {
	buf   []Peak
	start int
	n     int
}

func newPeakRing(capacity int) *peakRing {
	return &peakRing{buf: make([]Peak, capacity)}
}

func (r *peakRing) push(p Peak) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// values returns the retained peaks, oldest first.
func (r *peakRing) values() []Peak {
	out := make([]Peak, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *peakRing) len() int { return r.n }

func (r *peakRing) reset() {
	r.start = 0
	r.n = 0
}
