package memtrace

const chunkLen = 64

// arena hands out records in fixed-size chunks so that a record's address
// never changes once allocated. Records are only released all at once.
type arena[T any] struct {
	chunks [][]T
	n      int32
}

func (a *arena[T]) alloc() (int32, *T) {
	i := a.n
	if int(i)%chunkLen == 0 {
		a.chunks = append(a.chunks, make([]T, chunkLen))
	}
	a.n++
	return i, &a.chunks[i/chunkLen][i%chunkLen]
}

func (a *arena[T]) at(i int32) *T {
	return &a.chunks[i/chunkLen][i%chunkLen]
}

func (a *arena[T]) len() int { return int(a.n) }

func (a *arena[T]) release() {
	a.chunks = nil
	a.n = 0
}
