// Package sv parses IEC 61850-9-2 sampled values messages carried directly
// in Ethernet frames (EtherType 0x88BA).
//
// Only the subset needed by a subscriber is supported: the Ethernet II
// header with an optional 802.1Q tag, the SV header and the savPdu with its
// sequence of ASDUs. BER lengths must be definite and minimally encoded.
package sv

import (
	"errors"
	"net"
)

// EtherType is the IEC 61850-9-2 sampled values EtherType.
const EtherType = 0x88BA

const (
	etherTypeVLAN = 0x8100
	macLen        = 6
	svHeaderLen   = 8
)

var (
	// ErrNotSV is returned for Ethernet frames that are not sampled values.
	ErrNotSV = errors.New("sv: not a sampled values frame")
	// ErrMalformed is returned for SV frames that cannot be decoded.
	ErrMalformed = errors.New("sv: malformed frame")
)

// Header carries the link-layer and SV header fields of a message.
type Header struct {
	Dst net.HardwareAddr
	Src net.HardwareAddr

	Tagged       bool
	VLANPriority uint8
	VLANID       uint16

	AppID  uint16
	Length uint16
}

// Message is one parsed SV Ethernet frame.
type Message struct {
	Header
	NoASDU int
	ASDUs  []ASDU
}

// ASDU is a single sampled values data unit; the subscriber's Frame.
//
// SeqData aliases the receive buffer and is only valid for the duration of
// the listener call that received it.
type ASDU struct {
	SvID    string
	HasSvID bool
	DatSet  string

	SmpCnt   uint16
	ConfRev  uint32
	SmpSynch uint8

	RefrTm    uint64
	HasRefrTm bool

	SmpRate    uint16
	HasSmpRate bool

	SmpMod    uint16
	HasSmpMod bool

	GmIdentity []byte

	SeqData []byte
}

// DataSize returns the declared length of the seqData block.
func (a *ASDU) DataSize() int { return len(a.SeqData) }

// Data returns the raw seqData block.
func (a *ASDU) Data() []byte { return a.SeqData }
