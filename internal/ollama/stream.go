package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// streamReader incrementally decodes the backend's newline-delimited JSON
// stream. A fragment boundary may fall mid-line: bufio carries the incomplete
// tail across reads and only complete lines are parsed. Whatever is buffered
// when the transport ends is parsed as a final line.
type streamReader struct {
	reader *bufio.Reader
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{reader: bufio.NewReader(r)}
}

// relay decodes lines into deltas and sends them until the stream ends, an
// error delta is produced, or ctx is cancelled.
func (s *streamReader) relay(ctx context.Context, out chan<- Delta) {
	for {
		delta, err := s.next()
		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				// connection went away mid-stream; nothing left to deliver
				return
			}
			select {
			case out <- Delta{Err: fmt.Errorf("stream aborted: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		if delta == nil {
			// malformed or empty line, dropped without aborting the stream
			continue
		}

		select {
		case out <- *delta:
		case <-ctx.Done():
			return
		}

		if delta.Done || delta.Err != nil {
			return
		}
	}
}

// next reads a single line and parses it. Returns (nil, nil) for lines that
// should be skipped.
func (s *streamReader) next() (*Delta, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			// leftover buffered content at end-of-stream is a final line
			delta := parseLine(line)
			if delta == nil {
				return nil, io.EOF
			}
			delta.Done = true
			return delta, nil
		}
		return nil, err
	}

	if len(bytes.TrimSpace(line)) == 0 {
		return nil, nil
	}

	return parseLine(line), nil
}

// parseLine decodes one JSON object. Malformed lines yield nil; a single bad
// line never kills the whole decode.
func parseLine(line []byte) *Delta {
	var obj generateLine
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil
	}

	if obj.Error != "" {
		return &Delta{Err: fmt.Errorf("backend: %s", obj.Error)}
	}

	return &Delta{Content: obj.Response, Done: obj.Done}
}
