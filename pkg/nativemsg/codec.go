// Package nativemsg implements the browser native-messaging framing: a 4-byte
// little-endian length followed by a UTF-8 JSON message. One invocation of the
// host reads exactly one request and writes exactly one response.
package nativemsg

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// HeaderSize is the size of the length prefix.
	HeaderSize = 4

	// DefaultMaxRequestSize is the largest message a browser may send to a host.
	DefaultMaxRequestSize uint32 = 64 << 20

	// DefaultMaxResponseSize is the largest message a host may send to a browser.
	DefaultMaxResponseSize uint32 = 1 << 20
)

var (
	ErrNoMessage      = goerr.New("no message on input")
	ErrMalformedFrame = goerr.New("malformed frame")
	ErrOversizeFrame  = goerr.New("frame exceeds size limit")
)

// ReadMessage reads one framed message from r and decodes it into v.
// A limit of zero means DefaultMaxRequestSize.
func ReadMessage(r io.Reader, v any, limit uint32) error {
	if limit == 0 {
		limit = DefaultMaxRequestSize
	}

	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		return ErrNoMessage
	case errors.Is(err, io.ErrUnexpectedEOF):
		return goerr.Wrap(ErrMalformedFrame, "truncated length header", goerr.V("read", n))
	case err != nil:
		return goerr.Wrap(err, "failed to read length header")
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size > limit {
		return goerr.Wrap(ErrOversizeFrame, "declared length over limit",
			goerr.V("length", size), goerr.V("limit", limit))
	}

	body := make([]byte, size)
	n, err = io.ReadFull(r, body)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return goerr.Wrap(ErrMalformedFrame, "truncated message body",
				goerr.V("length", size), goerr.V("read", n))
		}
		return goerr.Wrap(err, "failed to read message body")
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return goerr.Wrap(ErrMalformedFrame, "message is not a JSON object")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return goerr.Wrap(ErrMalformedFrame, "invalid JSON message", goerr.V("cause", err.Error()))
	}
	return nil
}

// Encode returns the framed bytes for v. A limit of zero means
// DefaultMaxResponseSize.
func Encode(v any, limit uint32) ([]byte, error) {
	if limit == 0 {
		limit = DefaultMaxResponseSize
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode message")
	}
	if uint64(len(body)) > uint64(limit) {
		return nil, goerr.Wrap(ErrOversizeFrame, "encoded message over limit",
			goerr.V("length", len(body)), goerr.V("limit", limit))
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// WriteMessage frames v and writes it to w in a single write.
func WriteMessage(w io.Writer, v any, limit uint32) error {
	frame, err := Encode(v, limit)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return goerr.Wrap(err, "failed to write frame")
	}
	return nil
}
