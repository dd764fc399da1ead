// Package pool provides typed free lists for packet buffers.
package pool

import "sync"

// Pool is a typed wrapper around sync.Pool.
type Pool[T any] struct {
	internal sync.Pool
}

// New creates a new Pool with the given constructor.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{
		internal: sync.Pool{
			New: func() any { return newFn() },
		},
	}
}

func (p *Pool[T]) Get() T     { return p.internal.Get().(T) }
func (p *Pool[T]) Put(item T) { p.internal.Put(item) }

// Packets hands out fixed-size byte buffers. A buffer always comes back at
// full length, whatever length it was returned with.
type Packets struct {
	size int
	p    *Pool[*[]byte]
}

// NewPackets returns a pool of size-byte buffers.
func NewPackets(size int) *Packets {
	return &Packets{
		size: size,
		p: New(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
	}
}

// Size returns the capacity of every buffer.
func (p *Packets) Size() int { return p.size }

func (p *Packets) Get() *[]byte {
	b := p.p.Get()
	*b = (*b)[:p.size]
	return b
}

// Put returns b to the pool. Buffers of another capacity are dropped.
func (p *Packets) Put(b *[]byte) {
	if b == nil || cap(*b) != p.size {
		return
	}
	p.p.Put(b)
}
