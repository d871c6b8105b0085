// Package delta implements text delta windows: instruction sets that rebuild
// a file body from a source view plus literal new data.
package delta

import "fmt"

// Action selects where an operation copies its bytes from.
type Action byte

const (
	// ActionSource copies from the window's source view.
	ActionSource Action = iota
	// ActionTarget copies from bytes this window has already produced. The
	// range may overlap the bytes being produced, which repeats a pattern.
	ActionTarget
	// ActionNew copies from the window's new data.
	ActionNew
	// ActionZero emits zero bytes.
	ActionZero
)

func (a Action) String() string {
	switch a {
	case ActionSource:
		return "source"
	case ActionTarget:
		return "target"
	case ActionNew:
		return "new"
	case ActionZero:
		return "zero"
	}
	return fmt.Sprintf("action(%d)", byte(a))
}

// Op is one instruction of a window.
type Op struct {
	Action Action
	Offset int
	Length int
}

// Window transforms a source view into TargetLen bytes of output.
type Window struct {
	SourceOffset int64
	SourceLen    int
	TargetLen    int
	Ops          []Op
	NewData      []byte
}

// WindowHandler consumes the windows of a text delta stream in order. A nil
// window marks the end of the stream.
type WindowHandler func(w *Window) error

// SourceOps counts the operations reading from the source view.
func (w *Window) SourceOps() int {
	n := 0
	for _, op := range w.Ops {
		if op.Action == ActionSource {
			n++
		}
	}
	return n
}

// Validate checks that every operation stays within its view and that the
// operations produce exactly TargetLen bytes.
func (w *Window) Validate() error {
	if w.SourceOffset < 0 || w.SourceLen < 0 || w.TargetLen < 0 {
		return fmt.Errorf("%w: negative view (source %d+%d, target %d)", ErrMalformedDelta, w.SourceOffset, w.SourceLen, w.TargetLen)
	}

	produced := 0
	for i, op := range w.Ops {
		if op.Offset < 0 || op.Length < 0 {
			return fmt.Errorf("%w: op %d (%s) has negative range %d+%d", ErrMalformedDelta, i, op.Action, op.Offset, op.Length)
		}
		switch op.Action {
		case ActionSource:
			if op.Length > w.SourceLen-op.Offset {
				return fmt.Errorf("%w: op %d reads source %d+%d beyond view length %d", ErrMalformedDelta, i, op.Offset, op.Length, w.SourceLen)
			}
		case ActionNew:
			if op.Length > len(w.NewData)-op.Offset {
				return fmt.Errorf("%w: op %d reads new data %d+%d beyond %d bytes", ErrMalformedDelta, i, op.Offset, op.Length, len(w.NewData))
			}
		case ActionTarget:
			if op.Length > 0 && op.Offset >= produced {
				return fmt.Errorf("%w: op %d copies target offset %d before it is produced (%d)", ErrMalformedDelta, i, op.Offset, produced)
			}
		case ActionZero:
		default:
			return fmt.Errorf("%w: op %d has unknown action %s", ErrMalformedDelta, i, op.Action)
		}
		if op.Length > w.TargetLen-produced {
			return fmt.Errorf("%w: ops produce more than target length %d", ErrMalformedDelta, w.TargetLen)
		}
		produced += op.Length
	}

	if produced != w.TargetLen {
		return fmt.Errorf("%w: ops produce %d bytes, target length is %d", ErrMalformedDelta, produced, w.TargetLen)
	}
	return nil
}

// apply executes a validated window against its source view and appends the
// output to dst.
func (w *Window) apply(dst []byte, source []byte) []byte {
	start := len(dst)
	for _, op := range w.Ops {
		switch op.Action {
		case ActionSource:
			dst = append(dst, source[op.Offset:op.Offset+op.Length]...)
		case ActionNew:
			dst = append(dst, w.NewData[op.Offset:op.Offset+op.Length]...)
		case ActionTarget:
			// Byte at a time so an overlapping range replicates its pattern.
			from := start + op.Offset
			for i := 0; i < op.Length; i++ {
				dst = append(dst, dst[from+i])
			}
		case ActionZero:
			for i := 0; i < op.Length; i++ {
				dst = append(dst, 0)
			}
		}
	}
	return dst
}
