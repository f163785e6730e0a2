package cancel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister_SharesToken(t *testing.T) {
	r := NewRegistry()

	t1 := r.Register("run-1")
	t2 := r.Register("run-1")
	assert.Same(t, t1, t2)

	other := r.Register("run-2")
	assert.NotSame(t, t1, other)
}

func TestSignal(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Signal("run-1"))

	tok := r.Register("run-1")
	assert.False(t, tok.Cancelled())

	assert.True(t, r.Signal("run-1"))
	assert.True(t, tok.Cancelled())
	assert.True(t, r.IsCancelled("run-1"))

	select {
	case <-tok.Context().Done():
	default:
		t.Fatal("token context should be done after signal")
	}
}

func TestUnregister_RefCounting(t *testing.T) {
	r := NewRegistry()

	r.Register("run-1")
	r.Register("run-1")

	r.Unregister("run-1")
	assert.NotNil(t, r.GetToken("run-1"))

	r.Unregister("run-1")
	assert.Nil(t, r.GetToken("run-1"))
	assert.False(t, r.IsCancelled("run-1"))
}

func TestRegister_AfterSignalReturnsAbortedToken(t *testing.T) {
	r := NewRegistry()

	r.Register("run-1")
	r.Signal("run-1")

	tok := r.Register("run-1")
	assert.True(t, tok.Cancelled())
}
