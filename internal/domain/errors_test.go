package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(&TransientError{Op: "lookup", Err: errors.New("503")}))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &ConnectError{Addr: "x:1", Err: errors.New("refused")})))
	assert.True(t, IsTransient(timeoutErr{}))
}

func TestConnectErrorUnwrap(t *testing.T) {
	inner := errors.New("handshake timeout")
	err := &ConnectError{Addr: "cluster:7300", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "cluster:7300")
}
