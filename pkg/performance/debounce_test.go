package performance

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebounceReplacesPendingCall(t *testing.T) {
	d := NewDebouncer()
	var first, second int32

	d.Debounce("screen", 20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	d.Debounce("screen", 20*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.False(t, d.Pending("screen"))
}

func TestDebounceKeysAreIndependent(t *testing.T) {
	d := NewDebouncer()
	var calls int32

	d.Debounce("a", 5*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	d.Debounce("b", 5*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestCancelAndClear(t *testing.T) {
	d := NewDebouncer()
	var calls int32

	d.Debounce("a", 10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	d.Debounce("b", 10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	d.Cancel("a")
	assert.True(t, d.Pending("b"))
	d.Clear()
	assert.False(t, d.Pending("b"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
