// ABOUTME: Stdio transport: newline-delimited JSON-RPC on stdin/stdout.
// ABOUTME: Each tools/call runs on its own goroutine so overlapping calls do not block the reader.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// lineWriter serializes responses onto the output stream, one JSON document per line.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (lw *lineWriter) write(resp *JSONRPCResponse) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	// Encode appends the newline.
	return lw.enc.Encode(resp)
}

// ServeStdio reads requests from r and writes responses to w until r reaches
// EOF or ctx is done. When input ends, calls still waiting on the operator
// are cancelled and ServeStdio returns once they have replied.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &lineWriter{enc: json.NewEncoder(w)}
	var inflight sync.WaitGroup

	lines := make(chan stdioLine)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReaderSize(r, 64*1024)
		for {
			line, err := readLine(reader, MaxRequestBodySize)
			if len(line.data) > 0 || line.tooLong {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	s.logger.Info("MCP stdio transport started")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case err = <-readErr:
			break loop
		case line := <-lines:
			if line.tooLong {
				s.logger.Warn("discarding oversized stdio message", "limit", MaxRequestBodySize)
				s.send(out, errorResponse(nil, JSONRPCInvalidRequest, "request body too large"))
				continue
			}
			s.handleLine(ctx, line.data, out, &inflight)
		}
	}

	cancel()
	inflight.Wait()
	s.logger.Info("MCP stdio transport stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading stdio: %w", err)
	}
	return nil
}

// stdioLine is one newline-delimited message. Messages over the size limit
// are drained from the input and reported with tooLong set and no data.
type stdioLine struct {
	data    []byte
	tooLong bool
}

// readLine reads up to the next newline without holding more than limit
// bytes. The returned error is io.EOF once input ends; a final line without
// a trailing newline is still returned.
func readLine(r *bufio.Reader, limit int) (stdioLine, error) {
	var line stdioLine
	for {
		chunk, err := r.ReadSlice('\n')
		if !line.tooLong {
			if len(line.data)+len(chunk) > limit+1 {
				line.tooLong = true
				line.data = nil
			} else {
				line.data = append(line.data, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line.data = bytes.TrimRight(line.data, "\r\n")
		return line, err
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte, out *lineWriter, inflight *sync.WaitGroup) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	req, rpcErr := parseRequest(line)
	if rpcErr != nil {
		s.send(out, rpcErr)
		return
	}
	if req.isNotification() {
		s.acceptNotification(req)
		return
	}

	s.logger.Debug("MCP request", "method", req.Method, "transport", "stdio")

	if req.Method != "tools/call" {
		s.send(out, s.dispatch(ctx, req))
		return
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		s.send(out, s.dispatch(ctx, req))
	}()
}

func (s *Server) send(out *lineWriter, resp *JSONRPCResponse) {
	if err := out.write(resp); err != nil {
		s.logger.Warn("failed to write JSON-RPC response", "error", err)
	}
}
