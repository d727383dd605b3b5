package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

const (
	readBufferSize    = 32 * 1024
	maxPendingLineLen = 2 * 1024 * 1024
)

// ErrLineTooLong is returned by the batch pump when an unterminated line
// grows past the pending buffer limit.
var ErrLineTooLong = errors.New("sse: line exceeds maximum length")

// LineDecoder turns raw body reads into complete protocol lines. The
// unterminated tail of the most recent read is kept until a later read
// completes it. Splitting happens on the raw bytes, so a multi-byte UTF-8
// character cut across reads is reassembled before it is decoded.
type LineDecoder struct {
	buf []byte
}

// Feed appends chunk and returns every newline-terminated line now available,
// without the trailing newline.
func (d *LineDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)
	last := bytes.LastIndexByte(d.buf, '\n')
	if last < 0 {
		return nil
	}
	complete := d.buf[:last]
	raw := bytes.Split(complete, []byte{'\n'})
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.ToValidUTF8(string(l), "\uFFFD"))
	}
	rest := d.buf[last+1:]
	d.buf = append(make([]byte, 0, len(rest)), rest...)
	return lines
}

// Pending returns the retained unterminated fragment.
func (d *LineDecoder) Pending() []byte {
	return d.buf
}

// Reset discards the retained fragment. Called at body end: an unterminated
// trailing fragment is dropped, never flushed as a line.
func (d *LineDecoder) Reset() {
	d.buf = nil
}

// StartBatchPump reads body and emits, for every network read that completed
// at least one line, the batch of lines that read produced. Batches keep the
// one-read granularity so that callers can publish once per read. The error
// channel receives nil on a clean end of body.
func StartBatchPump(ctx context.Context, body io.Reader) (<-chan []string, <-chan error) {
	out := make(chan []string)
	done := make(chan error, 1)
	go func() {
		defer close(out)
		var dec LineDecoder
		buf := make([]byte, readBufferSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				lines := dec.Feed(buf[:n])
				if len(dec.Pending()) > maxPendingLineLen {
					done <- ErrLineTooLong
					return
				}
				if len(lines) > 0 {
					select {
					case out <- lines:
					case <-ctx.Done():
						done <- ctx.Err()
						return
					}
				}
			}
			if err != nil {
				dec.Reset()
				if errors.Is(err, io.EOF) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
		}
	}()
	return out, done
}
