package sv

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// BER tags of the savPdu (IEC 61850-9-2 Annex A).
const (
	tagSavPdu  = cbasn1.Tag(0x60)
	tagNoASDU  = cbasn1.Tag(0x80)
	tagSecure  = cbasn1.Tag(0xA1)
	tagSeqASDU = cbasn1.Tag(0xA2)
	tagASDU    = cbasn1.SEQUENCE

	tagSvID       = cbasn1.Tag(0x80)
	tagDatSet     = cbasn1.Tag(0x81)
	tagSmpCnt     = cbasn1.Tag(0x82)
	tagConfRev    = cbasn1.Tag(0x83)
	tagRefrTm     = cbasn1.Tag(0x84)
	tagSmpSynch   = cbasn1.Tag(0x85)
	tagSmpRate    = cbasn1.Tag(0x86)
	tagSeqData    = cbasn1.Tag(0x87)
	tagSmpMod     = cbasn1.Tag(0x88)
	tagGmIdentity = cbasn1.Tag(0x89)
)

// ParseHeader decodes the Ethernet and SV headers of pkt and returns the
// header together with the savPdu bytes. It returns ErrNotSV when the
// EtherType is not 0x88BA.
func ParseHeader(pkt []byte) (Header, []byte, error) {
	var h Header

	if len(pkt) < 2*macLen+2 {
		return h, nil, fmt.Errorf("%w: short ethernet header (%d bytes)", ErrNotSV, len(pkt))
	}

	h.Dst = net.HardwareAddr(pkt[0:macLen])
	h.Src = net.HardwareAddr(pkt[macLen : 2*macLen])

	off := 2 * macLen
	etype := binary.BigEndian.Uint16(pkt[off:])
	off += 2

	if etype == etherTypeVLAN {
		if len(pkt) < off+4 {
			return h, nil, fmt.Errorf("%w: short vlan tag", ErrNotSV)
		}

		tci := binary.BigEndian.Uint16(pkt[off:])
		h.Tagged = true
		h.VLANPriority = uint8(tci >> 13)
		h.VLANID = tci & 0x0FFF
		etype = binary.BigEndian.Uint16(pkt[off+2:])
		off += 4
	}

	if etype != EtherType {
		return h, nil, ErrNotSV
	}

	if len(pkt) < off+svHeaderLen {
		return h, nil, fmt.Errorf("%w: short sv header", ErrMalformed)
	}

	h.AppID = binary.BigEndian.Uint16(pkt[off:])
	h.Length = binary.BigEndian.Uint16(pkt[off+2:])

	if int(h.Length) < svHeaderLen || off+int(h.Length) > len(pkt) {
		return h, nil, fmt.Errorf("%w: sv length %d outside frame of %d bytes", ErrMalformed, h.Length, len(pkt)-off)
	}

	return h, pkt[off+svHeaderLen : off+int(h.Length)], nil
}

// ParseFrame decodes a complete SV Ethernet frame. The returned ASDUs alias
// pkt.
func ParseFrame(pkt []byte) (*Message, error) {
	h, apdu, err := ParseHeader(pkt)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: h}
	if err := parseSavPdu(apdu, m); err != nil {
		return nil, err
	}

	return m, nil
}

func parseSavPdu(apdu []byte, m *Message) error {
	in := cryptobyte.String(apdu)

	var pdu cryptobyte.String
	if !in.ReadASN1(&pdu, tagSavPdu) {
		return fmt.Errorf("%w: missing savPdu", ErrMalformed)
	}

	seen := false

	for !pdu.Empty() {
		var (
			body cryptobyte.String
			tag  cbasn1.Tag
		)

		if !pdu.ReadAnyASN1(&body, &tag) {
			return fmt.Errorf("%w: bad savPdu element", ErrMalformed)
		}

		switch tag {
		case tagNoASDU:
			n, ok := readUint(body, 4)
			if !ok {
				return fmt.Errorf("%w: bad noASDU", ErrMalformed)
			}

			m.NoASDU = int(n)
		case tagSecure:
			// Security extension is not interpreted.
		case tagSeqASDU:
			seen = true

			for !body.Empty() {
				var raw cryptobyte.String
				if !body.ReadASN1(&raw, tagASDU) {
					return fmt.Errorf("%w: bad ASDU in sequence", ErrMalformed)
				}

				asdu, err := parseASDU(raw)
				if err != nil {
					return err
				}

				m.ASDUs = append(m.ASDUs, asdu)
			}
		}
	}

	if !seen {
		return fmt.Errorf("%w: missing seqASDU", ErrMalformed)
	}

	if m.NoASDU != len(m.ASDUs) {
		return fmt.Errorf("%w: noASDU=%d but %d ASDUs present", ErrMalformed, m.NoASDU, len(m.ASDUs))
	}

	return nil
}

func parseASDU(raw cryptobyte.String) (ASDU, error) {
	var (
		a       ASDU
		hasData bool
	)

	for !raw.Empty() {
		var (
			body cryptobyte.String
			tag  cbasn1.Tag
		)

		if !raw.ReadAnyASN1(&body, &tag) {
			return a, fmt.Errorf("%w: bad ASDU element", ErrMalformed)
		}

		ok := true

		switch tag {
		case tagSvID:
			a.SvID, a.HasSvID = string(body), true
		case tagDatSet:
			a.DatSet = string(body)
		case tagSmpCnt:
			var v uint64
			v, ok = readUint(body, 2)
			a.SmpCnt = uint16(v)
		case tagConfRev:
			var v uint64
			v, ok = readUint(body, 4)
			a.ConfRev = uint32(v)
		case tagRefrTm:
			ok = len(body) == 8
			if ok {
				a.RefrTm, a.HasRefrTm = binary.BigEndian.Uint64(body), true
			}
		case tagSmpSynch:
			var v uint64
			v, ok = readUint(body, 1)
			a.SmpSynch = uint8(v)
		case tagSmpRate:
			var v uint64
			v, ok = readUint(body, 2)
			a.SmpRate, a.HasSmpRate = uint16(v), true
		case tagSeqData:
			a.SeqData, hasData = []byte(body), true
		case tagSmpMod:
			var v uint64
			v, ok = readUint(body, 2)
			a.SmpMod, a.HasSmpMod = uint16(v), true
		case tagGmIdentity:
			a.GmIdentity = []byte(body)
		}

		if !ok {
			return a, fmt.Errorf("%w: bad ASDU field tag 0x%02x", ErrMalformed, uint8(tag))
		}
	}

	if !hasData {
		return a, fmt.Errorf("%w: ASDU without seqData", ErrMalformed)
	}

	return a, nil
}

// readUint decodes a big-endian unsigned value of at most maxLen content
// bytes. A leading zero byte is accepted for values with the high bit set.
func readUint(b []byte, maxLen int) (uint64, bool) {
	if len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}

	if len(b) == 0 || len(b) > maxLen {
		return 0, false
	}

	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}

	return v, true
}
