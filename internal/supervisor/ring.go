package supervisor

// ringBuffer keeps the last cap lines written to it.
type ringBuffer struct {
	lines []string
	next  int
	full  bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{lines: make([]string, capacity)}
}

func (b *ringBuffer) add(line string) {
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

func (b *ringBuffer) len() int {
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// tail returns up to n of the most recent lines, oldest first.
func (b *ringBuffer) tail(n int) []string {
	size := b.len()
	if n > size {
		n = size
	}
	out := make([]string, n)
	start := b.next - n
	if start < 0 {
		start += len(b.lines)
	}
	for i := 0; i < n; i++ {
		out[i] = b.lines[(start+i)%len(b.lines)]
	}
	return out
}
