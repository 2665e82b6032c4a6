package nfc

// TLV block types found in the data area of Type 2 tags.
const (
	TLVNull        = 0x00
	TLVLockControl = 0x01
	TLVMemControl  = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// tlvHeader returns the value length and the offset of the value relative to
// the type byte at data[0]. ok is false if the header is truncated.
func tlvHeader(data []byte) (length, valueOffset int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] != 0xFF {
		return int(data[1]), 2, true
	}
	if len(data) < 4 {
		return 0, 0, false
	}
	return int(data[2])<<8 | int(data[3]), 4, true
}

// FindNDEF scans a TLV block and returns the value of the first NDEF Message
// TLV. Other TLVs are skipped; a Terminator TLV ends the scan.
func FindNDEF(data []byte) ([]byte, bool) {
	for off := 0; off < len(data); {
		switch data[off] {
		case TLVNull:
			off++
			continue
		case TLVTerminator:
			return nil, false
		}

		length, valueOff, ok := tlvHeader(data[off:])
		if !ok {
			return nil, false
		}
		start := off + valueOff
		if start+length > len(data) {
			return nil, false
		}
		if data[off] == TLVNDEF {
			return data[start : start+length], true
		}
		off = start + length
	}
	return nil, false
}

// NDEFLength returns the total byte count needed to hold the NDEF TLV at the
// start of data, header included. It lets a reader stop fetching pages once
// the message is complete. ok is false when data does not yet contain an NDEF
// TLV header.
func NDEFLength(data []byte) (int, bool) {
	for off := 0; off < len(data); {
		switch data[off] {
		case TLVNull:
			off++
			continue
		case TLVTerminator:
			return 0, false
		}

		length, valueOff, ok := tlvHeader(data[off:])
		if !ok {
			return 0, false
		}
		if data[off] == TLVNDEF {
			return off + valueOff + length, true
		}
		off += valueOff + length
	}
	return 0, false
}

// EncodeNDEFTLV wraps an NDEF message in an NDEF TLV followed by a
// Terminator TLV, as stored on Type 2 tags.
func EncodeNDEFTLV(msg []byte) []byte {
	out := []byte{TLVNDEF}
	if len(msg) < 0xFF {
		out = append(out, byte(len(msg)))
	} else {
		out = append(out, 0xFF, byte(len(msg)>>8), byte(len(msg)))
	}
	out = append(out, msg...)
	return append(out, TLVTerminator)
}
