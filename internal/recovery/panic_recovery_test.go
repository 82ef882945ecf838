package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo(t *testing.T) {
	assert.NoError(t, Do("ok", func() error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, Do("err", func() error { return boom }), boom)

	err := Do("panics", func() error { panic("bad payload") })
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, "panics", pe.Worker)
	assert.Equal(t, "bad payload", pe.Value)
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go("worker", func() {
		defer close(done)
		panic("in background")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
