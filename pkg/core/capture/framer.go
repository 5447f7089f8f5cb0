package capture

// framer re-blocks arbitrary-length callbacks into fixed-size blocks.
type framer struct {
	size int
	buf  []float32
}

func newFramer(size int) *framer {
	return &framer{
		size: size,
		buf:  make([]float32, 0, size),
	}
}

// push appends samples and returns every completed block. Returned blocks
// do not alias the framer's buffer.
func (f *framer) push(samples []float32) [][]float32 {
	var blocks [][]float32
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			block := make([]float32, f.size)
			copy(block, f.buf)
			blocks = append(blocks, block)
			f.buf = f.buf[:0]
		}
	}
	return blocks
}

// pending returns the number of buffered samples not yet emitted.
func (f *framer) pending() int {
	return len(f.buf)
}

func (f *framer) reset() {
	f.buf = f.buf[:0]
}
