package session

import (
	"bytes"
	"context"
	"io"
)

// binaryCopyPreamble is the fixed header PostgreSQL's binary COPY format
// requires at the start of every stream: an 11-byte signature, a 4-byte
// flags field (always zero here — no OIDs, no extension bits), and a
// 4-byte header-extension length (always zero, since we never attach
// extension data).
var binaryCopyPreamble = []byte{
	'P', 'G', 'C', 'O', 'P', 'Y', '\n', 0xff, '\r', '\n', 0x00,
	0x00, 0x00, 0x00, 0x00, // flags
	0x00, 0x00, 0x00, 0x00, // header extension length
}

// runCopy drives a single COPY IN to completion on the loop goroutine,
// selecting strategy by which field of source is set. It never leaves a
// partially-opened copy handle behind on any exit path: the buffered
// strategy never opens one to begin with (CopyFrom takes the whole reader
// synchronously), and the streaming strategy's io.Pipe is always torn down
// by feedCopyPipe, whether the channel drains cleanly, errors, or the
// context is cancelled. The loop (not runCopy) decides what a failure means
// for the session — see loop.go's copyItem case, which rolls back and stops
// accepting work per spec's "a COPY failure is fatal to the session."
func runCopy(ctx context.Context, conn connection, sql string, source copySource) (int64, error) {
	switch {
	case source.buffered != nil:
		reader := io.MultiReader(bytes.NewReader(binaryCopyPreamble), source.buffered)
		return conn.copyFromReader(ctx, sql, reader)
	case source.chunks != nil:
		return conn.copyFromChunks(ctx, sql, source.chunks)
	default:
		return 0, errEmptyCopySource
	}
}

// feedCopyPipe writes the binary preamble, then drains chunks into pw,
// fully consuming and discarding each chunk before requesting the next
// (the channel-send itself is the backpressure signal to the producer).
// It always closes pw exactly once, with the first error encountered (if
// any), so CopyFrom's read side never blocks forever and the pipe never
// leaks.
func feedCopyPipe(ctx context.Context, pw *io.PipeWriter, chunks <-chan []byte) {
	if _, err := pw.Write(binaryCopyPreamble); err != nil {
		pw.CloseWithError(err)
		drain(chunks)
		return
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				pw.Close()
				return
			}
			if _, err := pw.Write(chunk); err != nil {
				pw.CloseWithError(err)
				drain(chunks)
				return
			}
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			drain(chunks)
			return
		}
	}
}

// drain empties chunks without writing, so a producer blocked on a send
// after we've already given up on the pipe isn't left stuck forever.
func drain(chunks <-chan []byte) {
	for range chunks {
	}
}
