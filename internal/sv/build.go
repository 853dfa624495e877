package sv

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AppendFrame encodes m as an SV Ethernet frame and appends it to dst.
// Header.Length and Message.NoASDU are derived from the content. Fixed-size
// fields use the widths of the standard's publisher profile: smpCnt and
// smpRate on two bytes, confRev on four.
func AppendFrame(dst []byte, m *Message) ([]byte, error) {
	if len(m.Dst) != macLen || len(m.Src) != macLen {
		return nil, fmt.Errorf("sv: mac addresses must be %d bytes", macLen)
	}

	var b cryptobyte.Builder

	b.AddASN1(tagSavPdu, func(pdu *cryptobyte.Builder) {
		pdu.AddASN1(tagNoASDU, func(c *cryptobyte.Builder) { addMinimalUint(c, uint64(len(m.ASDUs))) })
		pdu.AddASN1(tagSeqASDU, func(seq *cryptobyte.Builder) {
			for i := range m.ASDUs {
				addASDU(seq, &m.ASDUs[i])
			}
		})
	})

	apdu, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("sv: encoding savPdu: %w", err)
	}

	length := svHeaderLen + len(apdu)
	if length > 0xFFFF {
		return nil, fmt.Errorf("sv: frame too large (%d bytes)", length)
	}

	dst = append(dst, m.Dst...)
	dst = append(dst, m.Src...)

	if m.Tagged {
		dst = binary.BigEndian.AppendUint16(dst, etherTypeVLAN)
		dst = binary.BigEndian.AppendUint16(dst, uint16(m.VLANPriority)<<13|m.VLANID&0x0FFF)
	}

	dst = binary.BigEndian.AppendUint16(dst, EtherType)
	dst = binary.BigEndian.AppendUint16(dst, m.AppID)
	dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	dst = append(dst, 0, 0, 0, 0)

	return append(dst, apdu...), nil
}

func addASDU(seq *cryptobyte.Builder, a *ASDU) {
	seq.AddASN1(tagASDU, func(c *cryptobyte.Builder) {
		if a.HasSvID {
			addBytes(c, tagSvID, []byte(a.SvID))
		}

		if a.DatSet != "" {
			addBytes(c, tagDatSet, []byte(a.DatSet))
		}

		addBytes(c, tagSmpCnt, binary.BigEndian.AppendUint16(nil, a.SmpCnt))
		addBytes(c, tagConfRev, binary.BigEndian.AppendUint32(nil, a.ConfRev))

		if a.HasRefrTm {
			addBytes(c, tagRefrTm, binary.BigEndian.AppendUint64(nil, a.RefrTm))
		}

		addBytes(c, tagSmpSynch, []byte{a.SmpSynch})

		if a.HasSmpRate {
			addBytes(c, tagSmpRate, binary.BigEndian.AppendUint16(nil, a.SmpRate))
		}

		addBytes(c, tagSeqData, a.SeqData)

		if a.HasSmpMod {
			addBytes(c, tagSmpMod, binary.BigEndian.AppendUint16(nil, a.SmpMod))
		}

		if len(a.GmIdentity) > 0 {
			addBytes(c, tagGmIdentity, a.GmIdentity)
		}
	})
}

func addBytes(b *cryptobyte.Builder, tag cbasn1.Tag, v []byte) {
	b.AddASN1(tag, func(c *cryptobyte.Builder) { c.AddBytes(v) })
}

func addMinimalUint(b *cryptobyte.Builder, v uint64) {
	var buf []byte
	for {
		buf = append([]byte{byte(v)}, buf...)
		v >>= 8

		if v == 0 {
			break
		}
	}

	if buf[0]&0x80 != 0 {
		buf = append([]byte{0}, buf...)
	}

	b.AddBytes(buf)
}
