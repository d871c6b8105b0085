package delta

import (
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
)

// Applier rebuilds a file body from a stream of windows. Source views read
// from the base content followed by everything reconstructed so far.
type Applier struct {
	buffer  []byte
	baseLen int
	windows int
	hasher  hash.Hash
	done    bool
}

// NewApplier returns an Applier seeded with the base content. The base slice
// is copied and may be reused by the caller.
func NewApplier(base []byte) *Applier {
	buffer := make([]byte, len(base), len(base)*2+64)
	copy(buffer, base)
	return &Applier{
		buffer:  buffer,
		baseLen: len(base),
		hasher:  md5.New(),
	}
}

// HandleWindow applies one window, or finishes the stream when w is nil. It
// has the WindowHandler signature.
func (a *Applier) HandleWindow(w *Window) error {
	if a.done {
		return errors.New("window received after end of delta stream")
	}
	if w == nil {
		a.done = true
		return nil
	}

	if err := w.Validate(); err != nil {
		return fmt.Errorf("window %d: %w", a.windows, err)
	}

	if int64(w.SourceLen) > int64(len(a.buffer))-w.SourceOffset {
		return fmt.Errorf("%w: window %d source view %d+%d beyond %d available bytes",
			ErrMalformedDelta, a.windows, w.SourceOffset, w.SourceLen, len(a.buffer))
	}

	source := a.buffer[w.SourceOffset : w.SourceOffset+int64(w.SourceLen)]
	start := len(a.buffer)
	a.buffer = w.apply(a.buffer, source)
	a.hasher.Write(a.buffer[start:])
	a.windows++
	return nil
}

// Done reports whether the end-of-stream marker has been seen.
func (a *Applier) Done() bool {
	return a.done
}

// Result returns the bytes reconstructed so far.
func (a *Applier) Result() []byte {
	return a.buffer[a.baseLen:]
}

// Checksum returns the checksum of the bytes reconstructed so far.
func (a *Applier) Checksum() Checksum {
	return Checksum(a.hasher.Sum(nil))
}

// Apply reconstructs the content described by a complete window sequence
// against base.
func Apply(base []byte, windows []*Window) ([]byte, error) {
	applier := NewApplier(base)
	for _, w := range windows {
		if w == nil {
			break
		}
		if err := applier.HandleWindow(w); err != nil {
			return nil, err
		}
	}
	if err := applier.HandleWindow(nil); err != nil {
		return nil, err
	}
	return applier.Result(), nil
}
