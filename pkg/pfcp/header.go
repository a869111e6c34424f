// Package pfcp reads just enough of a PFCP message (3GPP TS 29.244) to
// route it: version, message type, the S (SEID-present) flag, the
// optional SEID, and the sequence number. Full message encode/decode is
// an external collaborator's job (spec's Out of scope list); this
// package only peeks at the leading header bytes.
//
// Grounded on original_source/exampleProgram/pfcp/src/pfcpr15.cpp's
// pfcp_header_t usage (version/message_type/seid_seqno fields) and the
// 3GPP TS 29.244 §7.2.2 header layout it encodes against.
package pfcp

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/epctools/pkg/epcerr"
)

// Header is the subset of a PFCP message's leading bytes the core reads
// to route an incoming message to the right handler.
type Header struct {
	Version     uint8
	HasSEID     bool // the S flag
	MessageType uint8
	Length      uint16 // message length, excluding the first 4 bytes
	SEID        uint64 // valid only if HasSEID
	SequenceNo  uint32 // 24-bit sequence number
}

// minHeaderLen is the fixed 4-byte header; ParseHeader requires at least
// this many bytes, plus 8 more for SEID when S=1, plus 4 more for the
// sequence/spare byte.
const minHeaderLen = 4

// sFlagMask is bit 2 of the first header octet (3GPP TS 29.244 Table
// 7.2.2-1): 1 when a SEID follows the message type.
const sFlagMask = 0x02

// ParseHeader reads a PFCP header from the front of buf. It does not
// validate message_type against a known set - that is the decoder
// collaborator's job - only enough to route the message.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < minHeaderLen {
		return Header{}, epcerr.New(epcerr.KindProtocolMisuse, "pfcp.ParseHeader", fmt.Errorf("short buffer: %d bytes", len(buf)))
	}

	h := Header{
		Version:     buf[0] >> 5,
		HasSEID:     buf[0]&sFlagMask != 0,
		MessageType: buf[1],
		Length:      binary.BigEndian.Uint16(buf[2:4]),
	}

	rest := buf[4:]
	if h.HasSEID {
		if len(rest) < 12 {
			return Header{}, epcerr.New(epcerr.KindProtocolMisuse, "pfcp.ParseHeader", fmt.Errorf("short buffer for SEID+sequence: %d bytes", len(rest)))
		}
		h.SEID = binary.BigEndian.Uint64(rest[0:8])
		h.SequenceNo = uint32(rest[8])<<16 | uint32(rest[9])<<8 | uint32(rest[10])
		return h, nil
	}

	if len(rest) < 4 {
		return Header{}, epcerr.New(epcerr.KindProtocolMisuse, "pfcp.ParseHeader", fmt.Errorf("short buffer for sequence: %d bytes", len(rest)))
	}
	h.SequenceNo = uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
	return h, nil
}
