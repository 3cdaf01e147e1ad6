// Package window buffers the blocks of one RFC 7440 send window.
package window

import (
	"errors"
	"fmt"
	"io"
)

// Window is a bounded, ordered sequence of pending file blocks read
// from a single forward-only byte source. The caller sends every
// buffered block, waits for the window's ACK and calls Clear before
// the next Fill.
//
// A source whose length divides evenly by the block size still needs
// one final empty DATA block (RFC 1350 requires the last block to be
// strictly shorter than the block size); emitting it is the caller's
// job, the window only buffers data that was actually read.
type Window struct {
	src       io.Reader
	blocks    [][]byte
	size      int
	blockSize int
	exhausted bool
}

func New(windowSize, blockSize uint16, src io.Reader) *Window {
	return &Window{
		src:       src,
		size:      int(windowSize),
		blockSize: int(blockSize),
	}
}

// Fill reads from the source until the window holds windowSize blocks
// or a read comes back short, which marks the source as exhausted. It
// reports whether the source may still have data after this fill.
func (w *Window) Fill() (bool, error) {
	if w.exhausted {
		return false, nil
	}

	for len(w.blocks) < w.size {
		block := make([]byte, w.blockSize)

		n, err := io.ReadFull(w.src, block)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return false, fmt.Errorf("error while reading source block: %w", err)
		}

		if n < w.blockSize {
			w.exhausted = true
		}

		if n > 0 {
			w.blocks = append(w.blocks, block[:n])
		}

		if w.exhausted {
			return false, nil
		}
	}

	return true, nil
}

// Elements returns the buffered blocks in order without mutating the
// window.
func (w *Window) Elements() [][]byte {
	return w.blocks
}

// Clear discards the buffered blocks once their ACK was observed,
// permitting the next Fill.
func (w *Window) Clear() {
	w.blocks = w.blocks[:0]
}
