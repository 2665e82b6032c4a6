package nfc

import "fmt"

// Type 2 tag memory layout (NTAG21x, MIFARE Ultralight).
const (
	type2CCPage    = 3
	type2DataPage  = 4
	type2PageSize  = 4
	type2NDEFMagic = 0xE1
	type2MaxPage   = 0xFF
)

// PageReader reads one 4-byte page of a Type 2 tag.
type PageReader interface {
	ReadPage(page byte) ([4]byte, error)
}

// ReadType2 reads the NDEF message stored on a Type 2 tag. The data area size
// comes from the capability container; reading stops as soon as the NDEF TLV
// is complete. A tag that is not NDEF formatted yields a nil message.
func ReadType2(r PageReader) ([]byte, error) {
	cc, err := r.ReadPage(type2CCPage)
	if err != nil {
		return nil, NewTagConnectionLostError("ReadPage", fmt.Errorf("capability container: %w", err))
	}
	if cc[0] != type2NDEFMagic {
		return nil, nil
	}

	last := type2DataPage + int(cc[2])*8/type2PageSize
	if last > type2MaxPage {
		last = type2MaxPage
	}

	var data []byte
	for page := type2DataPage; page < last; page++ {
		p, err := r.ReadPage(byte(page))
		if err != nil {
			return nil, NewTagConnectionLostError("ReadPage", fmt.Errorf("page %d: %w", page, err))
		}
		data = append(data, p[:]...)
		if n, ok := NDEFLength(data); ok && len(data) >= n {
			break
		}
	}

	msg, ok := FindNDEF(data)
	if !ok {
		return nil, nil
	}
	return msg, nil
}
