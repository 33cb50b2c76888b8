// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/safecast"
	"github.com/hrissan/sddr/sddrerrors"
)

// PSI is a private set intersection protocol run over an established
// connection. The server offers its advertised values, the client learns
// which of its listen values are among them and nothing else.
type PSI interface {
	// Client returns the intersection, known is false when the protocol
	// produced no result and matching must not be narrowed.
	Client(ctx context.Context, conn Conn, listen []linkvalue.LinkValue) (intersection []linkvalue.LinkValue, known bool, err error)
	Server(ctx context.Context, conn Conn, advertised []linkvalue.LinkValue) error
}

// NopPSI exchanges nothing. Only the key exchange part of the handshake runs.
type NopPSI struct{}

func (NopPSI) Client(context.Context, Conn, []linkvalue.LinkValue) ([]linkvalue.LinkValue, bool, error) {
	return nil, false, nil
}

func (NopPSI) Server(context.Context, Conn, []linkvalue.LinkValue) error { return nil }

const (
	psiHeaderSize  = 4
	psiMaxBodySize = 1 << 20
)

// EncodePSIMessage frames elements as a little-endian uint32 body length
// followed by every element prefixed with its own uint32 length.
func EncodePSIMessage(elements [][]byte) []byte {
	size := 0
	for _, e := range elements {
		size += psiHeaderSize + len(e)
	}
	frame := make([]byte, psiHeaderSize, psiHeaderSize+size)
	binary.LittleEndian.PutUint32(frame, safecast.Cast[uint32](size))
	for _, e := range elements {
		frame = binary.LittleEndian.AppendUint32(frame, safecast.Cast[uint32](len(e)))
		frame = append(frame, e...)
	}
	return frame
}

// DecodePSIMessage parses a body (without the leading length).
func DecodePSIMessage(body []byte) ([][]byte, error) {
	var elements [][]byte
	for len(body) != 0 {
		if len(body) < psiHeaderSize {
			return nil, fmt.Errorf("%w: %d trailing bytes", sddrerrors.WarnPSIFrame, len(body))
		}
		n := binary.LittleEndian.Uint32(body)
		body = body[psiHeaderSize:]
		if uint64(n) > uint64(len(body)) {
			return nil, fmt.Errorf("%w: element of %d bytes, %d left", sddrerrors.WarnPSIFrame, n, len(body))
		}
		elements = append(elements, body[:n:n])
		body = body[n:]
	}
	return elements, nil
}

func WritePSIMessage(conn Conn, elements [][]byte, timeout time.Duration) error {
	return conn.Send(EncodePSIMessage(elements), timeout)
}

func ReadPSIMessage(conn Conn, timeout time.Duration) ([][]byte, error) {
	var header [psiHeaderSize]byte
	if err := conn.Recv(header[:], timeout); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size > psiMaxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes", sddrerrors.WarnPSIFrame, size)
	}
	body := make([]byte, size)
	if err := conn.Recv(body, timeout); err != nil {
		return nil, err
	}
	return DecodePSIMessage(body)
}
