package vold

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// KeyBuffer holds raw key material in locked memory. The backing pages are
// guarded against swapping and are zeroed when the buffer is destroyed, so a
// released buffer never leaks key bytes. Kernel argument structures that
// embed key material are built inside KeyBuffers too, never in plain slices.
type KeyBuffer struct {
	buf *memguard.LockedBuffer
}

// NewKeyBuffer allocates a zeroed locked buffer of the given size.
func NewKeyBuffer(size int) (*KeyBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("key buffer size must be positive, got %d", size)
	}
	return &KeyBuffer{buf: memguard.NewBuffer(size)}, nil
}

// NewKeyBufferFromBytes moves b into a locked buffer. The source slice is
// wiped as part of the move; callers must not use it afterwards.
func NewKeyBufferFromBytes(b []byte) (*KeyBuffer, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("key buffer cannot be empty")
	}
	return &KeyBuffer{buf: memguard.NewBufferFromBytes(b)}, nil
}

// Bytes exposes the underlying key material. The slice aliases locked memory
// and becomes invalid once the buffer is destroyed.
func (k *KeyBuffer) Bytes() []byte {
	return k.buf.Bytes()
}

// Len returns the buffer size in bytes.
func (k *KeyBuffer) Len() int {
	return k.buf.Size()
}

// Destroy zeroes and releases the buffer. Safe to call more than once and on
// a nil receiver.
func (k *KeyBuffer) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
}
