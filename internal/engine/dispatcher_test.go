package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInlineDispatcher(t *testing.T) {
	ran := false
	Inline.Dispatch(func() { ran = true })
	assert.True(t, ran)
}

func TestSerialDispatcherKeepsOrder(t *testing.T) {
	d := NewSerialDispatcher()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		d.Dispatch(func() {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
		})
	}
	d.Close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestSerialDispatcherDropsAfterClose(t *testing.T) {
	d := NewSerialDispatcher()
	d.Close()

	ran := false
	d.Dispatch(func() { ran = true })
	assert.False(t, ran)
}
