package kamilata

import (
	"bufio"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolID is the libp2p protocol negotiated for every Kamilata substream
// (spec §4.4).
const ProtocolID protocol.ID = "/kamilata/0.0.1"

// sendRequest writes a single request frame and reads back a single
// response frame over one substream, then leaves the substream open for
// the caller to reuse or close (spec §4.4, §7).
func sendRequest(s network.Stream, req *RequestPacket) (*ResponsePacket, error) {
	if err := WriteFrame(s, EncodeRequest(req)); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	r := bufio.NewReader(s)
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	maxLevels := 0
	resp, err := DecodeResponse(frame, maxLevels)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// readRequest reads a single request frame from an inbound substream.
func readRequest(r *bufio.Reader) (*RequestPacket, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req, err := DecodeRequest(frame)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// sendResponse writes a single response frame.
func sendResponse(s network.Stream, resp *ResponsePacket) error {
	if err := WriteFrame(s, EncodeResponse(resp)); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
