package history

// ring - fixed capacity FIFO of API samples
type ring struct {
	buf   []APISample
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]APISample, capacity)}
}

func (r *ring) push(s APISample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}

	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// items returns a copy of the buffered samples, oldest first
func (r *ring) items() []APISample {
	out := make([]APISample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}

	return out
}
