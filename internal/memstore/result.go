package memstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
)

// result is the memstore's SearchResult: a document identifier plus the
// opaque payload the caller originally stored alongside it.
type result struct {
	id      cid.Cid
	payload []byte
}

func (r *result) Cid() cid.Cid { return r.id }

// Bytes encodes the result as a length-prefixed Cid followed by the raw
// payload, so it round-trips through DecodeResult on any node running this
// store (spec §4.2, property R2).
func (r *result) Bytes() []byte {
	idBytes := r.id.Bytes()
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(idBytes)))
	buf := make([]byte, 0, n+len(idBytes)+len(r.payload))
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, idBytes...)
	buf = append(buf, r.payload...)
	return buf
}

func decodeResult(data []byte) (*result, error) {
	r := bytes.NewReader(data)
	idLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read cid length: %w", err)
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return nil, fmt.Errorf("read cid: %w", err)
	}
	id, err := cid.Cast(idBytes)
	if err != nil {
		return nil, fmt.Errorf("parse cid: %w", err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return &result{id: id, payload: payload}, nil
}
