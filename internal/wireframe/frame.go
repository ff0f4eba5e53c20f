// Package wireframe implements the 4-byte big-endian length-prefix
// framing shared by the TCP and QUIC transports: a uint32 length N
// followed by N bytes of codec-serialized SecureMessage. The WebSocket
// transport does not use it; it sends each SecureMessage as one binary
// WebSocket message with no length prefix.
package wireframe

import (
	"encoding/binary"
	"fmt"
	"io"
)

const headerSize = 4

// ErrFrameTooLarge is returned by ReadFrame when the advertised length
// exceeds maxSize.
type ErrFrameTooLarge struct {
	Size    uint32
	MaxSize int64
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("wireframe: frame size %d exceeds max %d", e.Size, e.MaxSize)
}

// WriteFrame writes the length prefix and payload as one logical frame.
// maxSize <= 0 means no limit is enforced here (the caller already checked).
func WriteFrame(w io.Writer, payload []byte, maxSize int64) error {
	if maxSize > 0 && int64(len(payload)) > maxSize {
		return &ErrFrameTooLarge{Size: uint32(len(payload)), MaxSize: maxSize}
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wireframe: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wireframe: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting frames whose
// declared length exceeds maxSize before allocating a buffer for them.
func ReadFrame(r io.Reader, maxSize int64) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && int64(n) > maxSize {
		return nil, &ErrFrameTooLarge{Size: n, MaxSize: maxSize}
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wireframe: read payload: %w", err)
	}
	return buf, nil
}
