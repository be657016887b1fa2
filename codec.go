package kamilata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// MaxFrameSize is the largest frame the codec will read or write (spec §4.4
// "Wire format"). A larger declared frame is rejected with ErrFrameTooLarge,
// which ends the substream, not the connection.
const MaxFrameSize = 5_000_000

// WriteFrame writes a varint length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting declared lengths
// above MaxFrameSize before allocating a buffer for the body.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return buf, nil
}

func writeUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func writeBytesField(w *bytes.Buffer, b []byte) {
	writeUvarint(w, uint64(len(b)))
	w.Write(b)
}

func writeStringField(w *bytes.Buffer, s string) {
	writeBytesField(w, []byte(s))
}

func readBytesField(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readStringField(r *bufio.Reader) (string, error) {
	b, err := readBytesField(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writePeerIDField(w *bytes.Buffer, p peer.ID) {
	writeBytesField(w, []byte(p))
}

func readPeerIDField(r *bufio.Reader) (peer.ID, error) {
	b, err := readBytesField(r)
	if err != nil {
		return "", err
	}
	return peer.ID(b), nil
}

func writePeerIDsField(w *bytes.Buffer, peers []peer.ID) {
	writeUvarint(w, uint64(len(peers)))
	for _, p := range peers {
		writePeerIDField(w, p)
	}
}

func readPeerIDsField(r *bufio.Reader) ([]peer.ID, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]peer.ID, 0, count)
	for i := uint64(0); i < count; i++ {
		p, err := readPeerIDField(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func writeMultiaddrField(w *bytes.Buffer, a multiaddr.Multiaddr) {
	writeBytesField(w, a.Bytes())
}

func readMultiaddrField(r *bufio.Reader) (multiaddr.Multiaddr, error) {
	b, err := readBytesField(r)
	if err != nil {
		return nil, err
	}
	return multiaddr.NewMultiaddrBytes(b)
}

func writeOptionalUint32Field(w *bytes.Buffer, v *uint32) {
	if v == nil {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	writeUvarint(w, uint64(*v))
}

func readOptionalUint32Field(r *bufio.Reader) (*uint32, error) {
	has, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if has == 0 {
		return nil, nil
	}
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := uint32(v)
	return &out, nil
}

func writeMinTargetMaxField(w *bytes.Buffer, m MinTargetMax) {
	writeUvarint(w, uint64(m.Min()))
	writeUvarint(w, uint64(m.Target()))
	writeUvarint(w, uint64(m.Max()))
}

func readMinTargetMaxField(r *bufio.Reader) (MinTargetMax, error) {
	lo, err := binary.ReadUvarint(r)
	if err != nil {
		return MinTargetMax{}, err
	}
	target, err := binary.ReadUvarint(r)
	if err != nil {
		return MinTargetMax{}, err
	}
	hi, err := binary.ReadUvarint(r)
	if err != nil {
		return MinTargetMax{}, err
	}
	return NewMinTargetMax(int64(lo), int64(target), int64(hi)), nil
}

func writeFilterField(w *bytes.Buffer, f *Filter) {
	writeBytesField(w, f.Bytes())
}

func readFilterField(r *bufio.Reader) (*Filter, error) {
	data, err := readBytesField(r)
	if err != nil {
		return nil, err
	}
	return FilterFromBytes(data, uint(len(data)))
}

func writeStackField(w *bytes.Buffer, s Stack) {
	writeUvarint(w, uint64(len(s)))
	for _, f := range s {
		writeFilterField(w, f)
	}
}

func readStackField(r *bufio.Reader, maxLevels int) (Stack, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if maxLevels > 0 && count > uint64(maxLevels) {
		return nil, ErrTooManyFilters
	}
	out := make(Stack, 0, count)
	for i := uint64(0); i < count; i++ {
		f, err := readFilterField(r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func writeSearchQueriesField(w *bytes.Buffer, qs SearchQueries) {
	writeUvarint(w, uint64(len(qs)))
	for _, q := range qs {
		writeUvarint(w, uint64(len(q.Words)))
		for _, word := range q.Words {
			writeStringField(w, word)
		}
		writeUvarint(w, uint64(q.MinMatching))
	}
}

func readSearchQueriesField(r *bufio.Reader) (SearchQueries, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make(SearchQueries, 0, count)
	for i := uint64(0); i < count; i++ {
		wordCount, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		words := make([]string, 0, wordCount)
		for j := uint64(0); j < wordCount; j++ {
			word, err := readStringField(r)
			if err != nil {
				return nil, err
			}
			words = append(words, word)
		}
		minMatching, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Query{Words: words, MinMatching: int(minMatching)})
	}
	return out, nil
}

const (
	priorityTagFixed    byte = 0
	priorityTagVariable byte = 1
)

func writeSearchPriorityField(w *bytes.Buffer, p SearchPriority) {
	if p.fixed != nil {
		w.WriteByte(priorityTagFixed)
		w.WriteByte(byte(*p.fixed))
		return
	}
	w.WriteByte(priorityTagVariable)
	w.WriteByte(byte(p.first))
	writeUvarint(w, uint64(p.untilDocuments))
	w.WriteByte(byte(p.then))
}

func readSearchPriorityField(r *bufio.Reader) (SearchPriority, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return SearchPriority{}, err
	}
	switch tag {
	case priorityTagFixed:
		b, err := r.ReadByte()
		if err != nil {
			return SearchPriority{}, err
		}
		return FixedPriority(FixedSearchPriority(b)), nil
	case priorityTagVariable:
		first, err := r.ReadByte()
		if err != nil {
			return SearchPriority{}, err
		}
		until, err := binary.ReadUvarint(r)
		if err != nil {
			return SearchPriority{}, err
		}
		then, err := r.ReadByte()
		if err != nil {
			return SearchPriority{}, err
		}
		return VariablePriority(FixedSearchPriority(first), int(until), FixedSearchPriority(then)), nil
	default:
		return SearchPriority{}, ErrUnknownVariant
	}
}

func writeDistancesField(w *bytes.Buffer, ds []Distance) {
	writeUvarint(w, uint64(len(ds)))
	for _, d := range ds {
		if d == NoDistance {
			w.WriteByte(0)
			continue
		}
		w.WriteByte(1)
		writeUvarint(w, uint64(d))
	}
}

func readDistancesField(r *bufio.Reader) ([]Distance, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]Distance, count)
	for i := range out {
		has, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if has == 0 {
			out[i] = NoDistance
			continue
		}
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out[i] = Distance(v)
	}
	return out, nil
}

func writeResultRouteField(w *bytes.Buffer, rt ResultRoute) {
	writePeerIDField(w, rt.Peer)
	writeUvarint(w, uint64(len(rt.Addresses)))
	for _, a := range rt.Addresses {
		writeMultiaddrField(w, a)
	}
	writeDistancesField(w, rt.Distances)
}

func readResultRouteField(r *bufio.Reader) (ResultRoute, error) {
	p, err := readPeerIDField(r)
	if err != nil {
		return ResultRoute{}, err
	}
	addrCount, err := binary.ReadUvarint(r)
	if err != nil {
		return ResultRoute{}, err
	}
	addrs := make([]multiaddr.Multiaddr, 0, addrCount)
	for i := uint64(0); i < addrCount; i++ {
		a, err := readMultiaddrField(r)
		if err != nil {
			return ResultRoute{}, err
		}
		addrs = append(addrs, a)
	}
	distances, err := readDistancesField(r)
	if err != nil {
		return ResultRoute{}, err
	}
	return ResultRoute{Peer: p, Addresses: addrs, Distances: distances}, nil
}

func writeResultMatchField(w *bytes.Buffer, m ResultMatch) {
	writeUvarint(w, uint64(m.Query))
	writeBytesField(w, m.Data)
}

func readResultMatchField(r *bufio.Reader) (ResultMatch, error) {
	q, err := binary.ReadUvarint(r)
	if err != nil {
		return ResultMatch{}, err
	}
	data, err := readBytesField(r)
	if err != nil {
		return ResultMatch{}, err
	}
	return ResultMatch{Query: int(q), Data: data}, nil
}

// EncodeRequest serialises a RequestPacket to its wire representation
// (tag byte followed by variant fields, spec §4.4).
func EncodeRequest(p *RequestPacket) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Kind))
	switch p.Kind {
	case ReqGetFilters:
		writeMinTargetMaxField(&buf, p.Interval)
		buf.WriteByte(byte(p.FilterCount))
		writePeerIDsField(&buf, p.BlockedPeers)
	case ReqPostFilters:
		writeMinTargetMaxField(&buf, p.Interval)
	case ReqSearch:
		writeSearchQueriesField(&buf, p.Queries)
		writeSearchPriorityField(&buf, p.Priority)
		writeUvarint(&buf, uint64(p.ReqLimit))
	case ReqDisconnect:
		writeStringField(&buf, p.Reason)
		writeOptionalUint32Field(&buf, p.TryAgainIn)
	}
	return buf.Bytes()
}

// DecodeRequest parses a RequestPacket, rejecting unknown tag bytes.
func DecodeRequest(data []byte) (*RequestPacket, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}
	p := &RequestPacket{Kind: RequestKind(tag)}
	switch p.Kind {
	case ReqGetFilters:
		p.Interval, err = readMinTargetMaxField(r)
		if err != nil {
			return nil, err
		}
		var filterCount byte
		filterCount, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		p.FilterCount = int(filterCount)
		p.BlockedPeers, err = readPeerIDsField(r)
	case ReqPostFilters:
		p.Interval, err = readMinTargetMaxField(r)
	case ReqSearch:
		p.Queries, err = readSearchQueriesField(r)
		if err != nil {
			return nil, err
		}
		p.Priority, err = readSearchPriorityField(r)
		if err != nil {
			return nil, err
		}
		var limit uint64
		limit, err = binary.ReadUvarint(r)
		p.ReqLimit = int(limit)
	case ReqDisconnect:
		p.Reason, err = readStringField(r)
		if err != nil {
			return nil, err
		}
		p.TryAgainIn, err = readOptionalUint32Field(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, tag)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeResponse serialises a ResponsePacket to its wire representation.
func EncodeResponse(p *ResponsePacket) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Kind))
	switch p.Kind {
	case RespConfirmRefresh:
		writeMinTargetMaxField(&buf, p.Interval)
	case RespUpdateFilters:
		writeStackField(&buf, p.Filters)
	case RespResults:
		writeUvarint(&buf, uint64(len(p.Routes)))
		for _, rt := range p.Routes {
			writeResultRouteField(&buf, rt)
		}
		writeUvarint(&buf, uint64(len(p.Matches)))
		for _, m := range p.Matches {
			writeResultMatchField(&buf, m)
		}
	case RespDisconnect:
		writeStringField(&buf, p.Reason)
		writeOptionalUint32Field(&buf, p.TryAgainIn)
	}
	return buf.Bytes()
}

// DecodeResponse parses a ResponsePacket. maxLevels, when nonzero, rejects
// UpdateFilters payloads carrying more levels than the local filter_count
// (spec §7 "Protocol errors").
func DecodeResponse(data []byte, maxLevels int) (*ResponsePacket, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}
	p := &ResponsePacket{Kind: ResponseKind(tag)}
	switch p.Kind {
	case RespConfirmRefresh:
		p.Interval, err = readMinTargetMaxField(r)
	case RespUpdateFilters:
		p.Filters, err = readStackField(r, maxLevels)
	case RespResults:
		var routeCount uint64
		routeCount, err = binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		p.Routes = make([]ResultRoute, 0, routeCount)
		for i := uint64(0); i < routeCount; i++ {
			var rt ResultRoute
			rt, err = readResultRouteField(r)
			if err != nil {
				return nil, err
			}
			p.Routes = append(p.Routes, rt)
		}
		var matchCount uint64
		matchCount, err = binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		p.Matches = make([]ResultMatch, 0, matchCount)
		for i := uint64(0); i < matchCount; i++ {
			var m ResultMatch
			m, err = readResultMatchField(r)
			if err != nil {
				return nil, err
			}
			p.Matches = append(p.Matches, m)
		}
	case RespDisconnect:
		p.Reason, err = readStringField(r)
		if err != nil {
			return nil, err
		}
		p.TryAgainIn, err = readOptionalUint32Field(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, tag)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
