// internal/mm/translate.go

package mm

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/hashmap"
)

// UserBuffer is a user memory range as seen from the kernel: one byte slice
// per page it touches. Pages need not be contiguous in kernel memory, so a
// structure that straddles a page boundary ends up split across segments.
type UserBuffer struct {
	segments [][]byte
}

// Len is the total number of bytes covered.
func (b UserBuffer) Len() int {
	n := 0
	for _, s := range b.segments {
		n += len(s)
	}
	return n
}

// Segments is the number of pages the buffer spans.
func (b UserBuffer) Segments() int { return len(b.segments) }

// WriteFrom copies p into the buffer, segment by segment, and returns the
// number of bytes copied.
func (b UserBuffer) WriteFrom(p []byte) int {
	n := 0
	for _, s := range b.segments {
		if n == len(p) {
			break
		}
		n += copy(s, p[n:])
	}
	return n
}

// ReadInto copies the buffer contents into p and returns the number of bytes copied.
func (b UserBuffer) ReadInto(p []byte) int {
	n := 0
	for _, s := range b.segments {
		if n == len(p) {
			break
		}
		n += copy(p[n:], s)
	}
	return n
}

// Translator resolves a user virtual range in the address space named by
// token into kernel-usable memory.
type Translator interface {
	Translate(token Token, va VirtAddr, n int) (UserBuffer, error)
}

// CopyOut encodes v (a fixed-size value) little-endian and writes it to va in
// the address space named by token. The whole range is resolved before any
// byte is written, so a fault leaves user memory untouched.
func CopyOut(tr Translator, token Token, va VirtAddr, v any) error {
	var enc bytes.Buffer
	if err := binary.Write(&enc, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(err, "encoding %T", v)
	}
	buf, err := tr.Translate(token, va, enc.Len())
	if err != nil {
		return err
	}
	buf.WriteFrom(enc.Bytes())
	return nil
}

// CopyIn reads n bytes at va in the address space named by token.
func CopyIn(tr Translator, token Token, va VirtAddr, n int) ([]byte, error) {
	buf, err := tr.Translate(token, va, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	buf.ReadInto(out)
	return out, nil
}

// Registry owns every live address space and resolves tokens to them.
type Registry struct {
	mu     sync.RWMutex
	spaces *hashmap.Map // Token -> *AddressSpace
	next   Token
}

// NewRegistry returns an empty registry. Token 0 is never handed out.
func NewRegistry() *Registry {
	return &Registry{spaces: hashmap.New(), next: 1}
}

// Create builds a new address space from layout and registers it.
func (r *Registry) Create(layout Layout) (*AddressSpace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	as, err := NewAddressSpace(r.next, layout)
	if err != nil {
		return nil, err
	}
	r.spaces.Put(as.token, as)
	r.next++
	return as, nil
}

// Lookup returns the address space for token.
func (r *Registry) Lookup(token Token) (*AddressSpace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.spaces.Get(token)
	if !ok {
		return nil, false
	}
	return v.(*AddressSpace), true
}

// Release drops the address space for token. Later translations fail.
func (r *Registry) Release(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spaces.Remove(token)
}

// Len returns the number of registered address spaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spaces.Size()
}

// Translate implements Translator.
func (r *Registry) Translate(token Token, va VirtAddr, n int) (UserBuffer, error) {
	as, ok := r.Lookup(token)
	if !ok {
		return UserBuffer{}, errors.Wrapf(ErrNoAddressSpace, "token %d", token)
	}
	buf, err := as.Translate(va, n)
	if err != nil {
		return UserBuffer{}, errors.Wrapf(err, "token %d", token)
	}
	return buf, nil
}
