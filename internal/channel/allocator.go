// Package channel manages the fixed pool of secondary-transport channel
// slots. The allocator only tracks free/owned; binding a channel to a peer
// address is the server's concern.
package channel

import (
	"sync"

	"github.com/zordsman/zordnet"
)

// Allocator hands out channel ids from a fixed pool of size N. Ids are in
// [0, N) and a given id is owned by at most one caller at a time; an id
// becomes reusable only after an explicit Release.
type Allocator struct {
	mu    sync.Mutex
	owned []bool
}

// NewAllocator creates an allocator with n free channels.
func NewAllocator(n int) *Allocator {
	return &Allocator{owned: make([]bool, n)}
}

// Allocate returns the lowest free channel id, or ErrChannelsExhausted when
// every channel is owned.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, owned := range a.owned {
		if !owned {
			a.owned[id] = true
			return id, nil
		}
	}
	return -1, zordnet.ErrChannelsExhausted
}

// Release marks the id free again. Releasing an id that is already free, or
// one outside the pool, has no effect.
func (a *Allocator) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id >= 0 && id < len(a.owned) {
		a.owned[id] = false
	}
}

// Free returns the number of channels currently available.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	free := 0
	for _, owned := range a.owned {
		if !owned {
			free++
		}
	}
	return free
}

// Size returns the total pool size.
func (a *Allocator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owned)
}
