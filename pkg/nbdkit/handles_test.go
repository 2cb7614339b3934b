package nbdkit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleTable(t *testing.T) {
	tbl := newHandleTable()
	a, b := &mockServer{}, &mockServer{}

	ha := tbl.insert(a)
	hb := tbl.insert(b)
	assert.Equal(t, Handle(1), ha)
	assert.Equal(t, Handle(2), hb)
	assert.Equal(t, 2, tbl.len())

	assert.Same(t, a, tbl.lookup(ha))
	assert.Same(t, b, tbl.remove(hb))
	assert.Equal(t, 1, tbl.len())

	assert.Panics(t, func() { tbl.lookup(hb) })
	assert.Panics(t, func() { tbl.remove(hb) })
	assert.Panics(t, func() { tbl.lookup(0) })

	// Ids are never reused.
	assert.Equal(t, Handle(3), tbl.insert(b))
}

func TestHandleTableConcurrent(t *testing.T) {
	tbl := newHandleTable()
	const n = 64

	var wg sync.WaitGroup
	handles := make(chan Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := tbl.insert(&mockServer{})
			tbl.lookup(h)
			handles <- h
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[Handle]bool)
	for h := range handles {
		assert.False(t, seen[h])
		seen[h] = true
		tbl.remove(h)
	}
	assert.Equal(t, 0, tbl.len())
}
