package writer

import "sync"

// batchPool generalizes pkg/common/pools/buffer_pool.go's sync.Pool of
// []byte buffers into a pool of record-batch backing arrays, so a writer's
// repeated flush cycles reuse one slice's underlying array instead of
// allocating a fresh batch every time the threshold is hit.
type batchPool[T any] struct {
	pool     sync.Pool
	capacity int
}

func newBatchPool[T any](capacity int) *batchPool[T] {
	return &batchPool[T]{
		capacity: capacity,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]T, 0, capacity)
			},
		},
	}
}

func (p *batchPool[T]) get() []T {
	return p.pool.Get().([]T)
}

func (p *batchPool[T]) put(batch []T) {
	if cap(batch) > p.capacity*4 {
		return
	}
	p.pool.Put(batch[:0])
}
