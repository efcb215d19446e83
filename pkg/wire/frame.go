package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

// MaxFrameBytes bounds a single JSON body or binary payload. Both the
// tracer and storage service reject anything larger rather than allocate
// unboundedly for a corrupt or hostile peer.
const MaxFrameBytes = 64 * 1024 * 1024

// frame is the wire encoding of one record:
//
//	[u32 json_len, LE][json_len bytes of UTF-8 JSON][u32 binary_len, LE][binary_len bytes]
//
// In a message-oriented carrier the message boundary itself would tell
// the reader where the binary payload ends; over a plain net.Conn stream
// that information has to live somewhere, hence the explicit binary_len
// header. Framing is direction-symmetric.
type frame struct {
	JSON   []byte
	Binary []byte
}

func writeFrame(w io.Writer, f frame) error {
	if len(f.JSON) > MaxFrameBytes || len(f.Binary) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(f.JSON)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errx.Wrap(ErrWriteFrame, err)
	}
	if len(f.JSON) > 0 {
		if _, err := w.Write(f.JSON); err != nil {
			return errx.Wrap(ErrWriteFrame, err)
		}
	}
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(f.Binary)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errx.Wrap(ErrWriteFrame, err)
	}
	if len(f.Binary) > 0 {
		if _, err := w.Write(f.Binary); err != nil {
			return errx.Wrap(ErrWriteFrame, err)
		}
	}
	return nil
}

func readFrame(r io.Reader) (frame, error) {
	jsonBody, err := readLengthPrefixed(r)
	if err != nil {
		return frame{}, err
	}
	binaryBody, err := readLengthPrefixed(r)
	if err != nil {
		return frame{}, err
	}
	return frame{JSON: jsonBody, Binary: binaryBody}, nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errx.Wrap(ErrReadFrame, err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errx.Wrap(ErrReadFrame, fmt.Errorf("short frame body: %w", err))
	}
	return buf, nil
}
