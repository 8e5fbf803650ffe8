package proxy

import (
	"bytes"
	"io"
	"sync"
)

// MaxBufferedBody caps how much of a non-streaming response, or of a single
// SSE line, is retained for usage parsing. Larger bodies are still forwarded
// in full; they just contribute no tokens.
const MaxBufferedBody = 4 << 20

var dataPrefix = []byte("data:")

// meteredBody forwards an upstream body while scanning it for output-token
// usage. done is called exactly once, on EOF or Close, with the largest
// count seen.
type meteredBody struct {
	body io.ReadCloser
	sse  bool
	done func(tokens uint64)

	buf      bytes.Buffer // whole body (JSON) or the current partial line (SSE)
	overflow bool
	tokens   uint64
	once     sync.Once
}

func newMeteredBody(body io.ReadCloser, sse bool, done func(uint64)) *meteredBody {
	return &meteredBody{body: body, sse: sse, done: done}
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		if b.sse {
			b.scanLines(p[:n])
		} else {
			b.retain(p[:n])
		}
	}
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *meteredBody) Close() error {
	err := b.body.Close()
	b.finish()
	return err
}

func (b *meteredBody) finish() {
	b.once.Do(func() {
		if b.sse {
			// A final event without a trailing newline.
			b.parseLine(b.buf.Bytes())
		} else if !b.overflow {
			b.observe(b.buf.Bytes())
		}
		b.buf.Reset()
		b.done(b.tokens)
	})
}

func (b *meteredBody) retain(chunk []byte) {
	if b.overflow {
		return
	}
	if b.buf.Len()+len(chunk) > MaxBufferedBody {
		b.overflow = true
		b.buf.Reset()
		return
	}
	b.buf.Write(chunk)
}

// scanLines feeds chunk into the line buffer and parses every complete line.
func (b *meteredBody) scanLines(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			b.retain(chunk)
			return
		}
		b.retain(chunk[:i])
		if !b.overflow {
			b.parseLine(b.buf.Bytes())
		}
		b.buf.Reset()
		b.overflow = false
		chunk = chunk[i+1:]
	}
}

func (b *meteredBody) parseLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	b.observe(bytes.TrimSpace(line[len(dataPrefix):]))
}

func (b *meteredBody) observe(doc []byte) {
	if n, ok := outputTokens(doc); ok {
		b.tokens = max(b.tokens, n)
	}
}
