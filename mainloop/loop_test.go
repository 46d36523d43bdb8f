package mainloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterateNonBlockingEmpty(t *testing.T) {
	l := New()
	n, err := l.Iterate(false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIterateRunsDeferredInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Defer(func() { got = append(got, i) })
	}
	n, err := l.Iterate(false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestDeferDuringIterationRunsNextIteration(t *testing.T) {
	l := New()
	var got []string
	l.Defer(func() {
		got = append(got, "first")
		l.Defer(func() { got = append(got, "second") })
	})

	n, err := l.Iterate(false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first"}, got)

	n, err = l.Iterate(false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestIterateBlocksForOtherGoroutines(t *testing.T) {
	l := New()
	ran := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Defer(func() { ran = true })
	}()
	n, err := l.Iterate(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, ran)
}

func TestRunReturnsQuitValue(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			l.Defer(func() {})
		}
		l.Defer(func() { l.Quit(143) })
	}()
	code, err := l.Run()
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 143, code)

	_, err = l.Iterate(false)
	assert.Equal(t, ErrQuit, err)
}

func TestQuitFinishesCurrentIteration(t *testing.T) {
	l := New()
	after := false
	l.Defer(func() { l.Quit(0) })
	l.Defer(func() { after = true })

	n, err := l.Iterate(false)
	assert.Equal(t, ErrQuit, err)
	assert.Equal(t, 2, n)
	assert.True(t, after)
}

func TestQuitFromOtherGoroutineWakesRun(t *testing.T) {
	l := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Quit(7)
	}()
	code, err := l.Run()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestFree(t *testing.T) {
	l := New()
	called := false
	l.Defer(func() { called = true })
	l.Free()
	l.Defer(func() { called = true })

	_, err := l.Iterate(false)
	assert.Equal(t, ErrFreed, err)
	_, err = l.Run()
	assert.Equal(t, ErrFreed, err)
	assert.False(t, called)
	assert.Equal(t, ErrFreed, l.SignalInit())
}
