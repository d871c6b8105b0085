package delta

import (
	"fmt"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// DefaultWindowSize bounds how many target bytes one window produces.
const DefaultWindowSize = 100 * 1024

// minRunLength is the shortest run of one repeated byte worth encoding as a
// zero fill or a self-referencing target copy.
const minRunLength = 32

// Sender splits content into delta windows.
type Sender struct {
	// WindowSize caps the target length of each window. Zero means
	// DefaultWindowSize.
	WindowSize int
}

// DefaultSender is used by the package-level Send and SendDelta.
var DefaultSender = &Sender{WindowSize: DefaultWindowSize}

// Send streams content as a full-text delta, then the end-of-stream marker,
// and returns the checksum of content.
func Send(content []byte, handler WindowHandler) (Checksum, error) {
	return DefaultSender.Send(content, handler)
}

// SendDelta streams content as a delta against base.
func SendDelta(base, content []byte, handler WindowHandler) (Checksum, error) {
	return DefaultSender.SendDelta(base, content, handler)
}

func (s *Sender) windowSize() int {
	if s == nil || s.WindowSize <= 0 {
		return DefaultWindowSize
	}
	return s.WindowSize
}

// Send streams content as new data. Window cuts fall on chunk boundaries where
// possible so that windows of similar files line up.
func (s *Sender) Send(content []byte, handler WindowHandler) (Checksum, error) {
	chunks, err := ChunkBytes(content)
	if err != nil {
		return nil, err
	}

	if err := s.sendLiteral(content, chunks, handler); err != nil {
		return nil, err
	}
	if err := handler(nil); err != nil {
		return nil, err
	}
	return Sum(content), nil
}

// SendDelta streams content, copying every chunk it shares with base from the
// source view instead of sending it again.
func (s *Sender) SendDelta(base, content []byte, handler WindowHandler) (Checksum, error) {
	if len(base) == 0 {
		return s.Send(content, handler)
	}

	baseChunks, err := ChunkBytes(base)
	if err != nil {
		return nil, err
	}
	index := make(map[string]types.Chunk, len(baseChunks))
	for _, chunk := range baseChunks {
		if _, seen := index[chunk.Hash]; !seen {
			index[chunk.Hash] = chunk
		}
	}

	chunks, err := ChunkBytes(content)
	if err != nil {
		return nil, err
	}

	limit := s.windowSize()
	var literal []types.Chunk
	var copyWindow *Window

	flushCopy := func() error {
		if copyWindow == nil {
			return nil
		}
		w := copyWindow
		copyWindow = nil
		return handler(w)
	}
	flushLiteral := func() error {
		if len(literal) == 0 {
			return nil
		}
		start := literal[0].Offset
		last := literal[len(literal)-1]
		region := content[start : last.Offset+last.Size]
		err := s.sendLiteral(region, rebase(literal, start), handler)
		literal = literal[:0]
		return err
	}

	for _, chunk := range chunks {
		match, ok := index[chunk.Hash]
		if !ok || match.Size != chunk.Size {
			if err := flushCopy(); err != nil {
				return nil, err
			}
			literal = append(literal, chunk)
			continue
		}

		if err := flushLiteral(); err != nil {
			return nil, err
		}

		size := int(chunk.Size)
		if copyWindow != nil &&
			copyWindow.SourceOffset+int64(copyWindow.SourceLen) == match.Offset &&
			copyWindow.TargetLen+size <= limit {
			// Contiguous in the base as well: extend the current copy.
			copyWindow.SourceLen += size
			copyWindow.TargetLen += size
			copyWindow.Ops[0].Length += size
			continue
		}

		if err := flushCopy(); err != nil {
			return nil, err
		}
		copyWindow = &Window{
			SourceOffset: match.Offset,
			SourceLen:    size,
			TargetLen:    size,
			Ops:          []Op{{Action: ActionSource, Offset: 0, Length: size}},
		}
	}

	if err := flushCopy(); err != nil {
		return nil, err
	}
	if err := flushLiteral(); err != nil {
		return nil, err
	}
	if err := handler(nil); err != nil {
		return nil, err
	}
	return Sum(content), nil
}

// rebase shifts chunk offsets so that they are relative to start.
func rebase(chunks []types.Chunk, start int64) []types.Chunk {
	out := make([]types.Chunk, len(chunks))
	for i, chunk := range chunks {
		chunk.Offset -= start
		out[i] = chunk
	}
	return out
}

// sendLiteral emits data as new-data windows, cutting at the last chunk
// boundary that keeps each window within the window size.
func (s *Sender) sendLiteral(data []byte, chunks []types.Chunk, handler WindowHandler) error {
	limit := s.windowSize()
	var start, end int64

	emit := func(from, to int64) error {
		for from < to {
			cut := to
			if cut-from > int64(limit) {
				cut = from + int64(limit)
			}
			if err := handler(newDataWindow(data[from:cut])); err != nil {
				return err
			}
			from = cut
		}
		return nil
	}

	for _, chunk := range chunks {
		chunkEnd := chunk.Offset + chunk.Size
		if end > start && chunkEnd-start > int64(limit) {
			if err := emit(start, end); err != nil {
				return err
			}
			start = end
		}
		end = chunkEnd
	}
	if end > start {
		return emit(start, end)
	}
	return nil
}

// newDataWindow encodes data without a source view. Long runs of zero bytes
// become zero fills and long runs of another byte become one literal byte
// followed by an overlapping copy of it.
func newDataWindow(data []byte) *Window {
	w := &Window{TargetLen: len(data)}
	literalStart := 0

	flush := func(to int) {
		if to <= literalStart {
			return
		}
		w.Ops = append(w.Ops, Op{Action: ActionNew, Offset: len(w.NewData), Length: to - literalStart})
		w.NewData = append(w.NewData, data[literalStart:to]...)
	}

	for i := 0; i < len(data); {
		j := i + 1
		for j < len(data) && data[j] == data[i] {
			j++
		}
		run := j - i
		if run < minRunLength {
			i = j
			continue
		}

		flush(i)
		if data[i] == 0 {
			w.Ops = append(w.Ops, Op{Action: ActionZero, Length: run})
		} else {
			w.Ops = append(w.Ops, Op{Action: ActionNew, Offset: len(w.NewData), Length: 1})
			w.NewData = append(w.NewData, data[i])
			w.Ops = append(w.Ops, Op{Action: ActionTarget, Offset: i, Length: run - 1})
		}
		literalStart = j
		i = j
	}
	flush(len(data))

	return w
}

// Collect returns a handler that appends every window to the given slice,
// useful for buffering a stream before applying it.
func Collect(windows *[]*Window) WindowHandler {
	return func(w *Window) error {
		if w == nil {
			return nil
		}
		*windows = append(*windows, w)
		return nil
	}
}

// Tee returns a handler forwarding every window to each handler in turn.
func Tee(handlers ...WindowHandler) WindowHandler {
	return func(w *Window) error {
		for i, h := range handlers {
			if err := h(w); err != nil {
				return fmt.Errorf("handler %d: %w", i, err)
			}
		}
		return nil
	}
}
