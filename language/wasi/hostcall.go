package wasi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/scriptgate/hostfunc"
)

// Messages a guest writes to stderr to reach the host.
// Format: \x00SAPI:{json}\x00 and \x00SAPI_FLUSH:\x00
const (
	protocolPrefix      = "\x00SAPI:"
	protocolFlushPrefix = "\x00SAPI_FLUSH:"
	protocolSuffix      = "\x00"
)

type messageType int

const (
	messageNone messageType = iota
	messageCall
	messageFlush
)

// findNextMessage returns the index and kind of the first message in content.
func findNextMessage(content string) (int, messageType) {
	callIdx := strings.Index(content, protocolPrefix)
	flushIdx := strings.Index(content, protocolFlushPrefix)

	switch {
	case callIdx == -1 && flushIdx == -1:
		return -1, messageNone
	case flushIdx == -1 || (callIdx != -1 && callIdx < flushIdx):
		return callIdx, messageCall
	default:
		return flushIdx, messageFlush
	}
}

// extractMessage splits the message starting at idx into its payload and the
// content after it. ok is false while the message is incomplete.
func extractMessage(content string, idx int, prefix string) (payload, remaining string, ok bool) {
	start := idx + len(prefix)
	end := strings.Index(content[start:], protocolSuffix)
	if end == -1 {
		return "", content[idx:], false
	}
	return content[start : start+end], content[start+end+len(protocolSuffix):], true
}

// partialPrefix reports how many trailing bytes of content could be the start
// of a message split across writes.
func partialPrefix(content string) int {
	i := strings.LastIndexByte(content, 0)
	if i == -1 {
		return 0
	}
	tail := content[i:]
	if strings.HasPrefix(protocolPrefix, tail) || strings.HasPrefix(protocolFlushPrefix, tail) {
		return len(tail)
	}
	return 0
}

// hostcalls intercepts guest stderr. Call messages are dispatched to the
// registry and answered on the guest's stdin, one JSON line per call, in
// order. Everything else passes through to the log writer.
type hostcalls struct {
	ctx      context.Context
	registry *hostfunc.Registry
	stderr   io.Writer
	onFlush  func()

	mu  sync.Mutex
	buf bytes.Buffer

	replies chan []byte
	done    chan struct{}
}

func newHostcalls(ctx context.Context, registry *hostfunc.Registry, stdin io.Writer, stderr io.Writer, onFlush func()) *hostcalls {
	h := &hostcalls{
		ctx:      ctx,
		registry: registry,
		stderr:   stderr,
		onFlush:  onFlush,
		replies:  make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go h.pump(stdin)
	return h
}

// pump writes replies to stdin. Writes after the guest is gone fail and are
// dropped.
func (h *hostcalls) pump(stdin io.Writer) {
	defer close(h.done)
	for reply := range h.replies {
		_, _ = stdin.Write(reply)
	}
}

func (h *hostcalls) Write(data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Write(data)

	for {
		content := h.buf.String()
		idx, msgType := findNextMessage(content)
		if msgType == messageNone {
			keep := partialPrefix(content)
			h.stderr.Write([]byte(content[:len(content)-keep]))
			h.buf.Reset()
			h.buf.WriteString(content[len(content)-keep:])
			break
		}

		h.stderr.Write([]byte(content[:idx]))

		prefix := protocolPrefix
		if msgType == messageFlush {
			prefix = protocolFlushPrefix
		}
		payload, remaining, ok := extractMessage(content, idx, prefix)
		if !ok {
			h.buf.Reset()
			h.buf.WriteString(remaining)
			break
		}
		h.buf.Reset()
		h.buf.WriteString(remaining)

		if msgType == messageFlush {
			if h.onFlush != nil {
				h.onFlush()
			}
			continue
		}

		var req hostfunc.CallRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			h.respond(hostfunc.CallResponse{Error: "invalid call format"})
			continue
		}
		h.respond(h.registry.Dispatch(h.ctx, req))
	}

	return len(data), nil
}

func (h *hostcalls) respond(resp hostfunc.CallResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(hostfunc.CallResponse{Error: "unencodable result"})
	}
	select {
	case h.replies <- append(data, '\n'):
	case <-h.ctx.Done():
	}
}

// Close flushes any incomplete message to stderr and stops the reply pump.
// The stdin reader must already be closed so pending writes fail.
func (h *hostcalls) Close() {
	h.mu.Lock()
	if h.buf.Len() > 0 {
		h.stderr.Write(h.buf.Bytes())
		h.buf.Reset()
	}
	h.mu.Unlock()

	close(h.replies)
	<-h.done
}
