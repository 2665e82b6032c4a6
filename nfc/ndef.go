package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type Name Format values of an NDEF record header.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
)

// Record header flags.
const (
	flagMB  byte = 0x80 // Message Begin
	flagME  byte = 0x40 // Message End
	flagCF  byte = 0x20 // Chunk Flag
	flagSR  byte = 0x10 // Short Record
	flagIL  byte = 0x08 // ID Length present
	maskTNF byte = 0x07
)

// ErrEmptyMessage is returned when an NDEF message holds no records.
var ErrEmptyMessage = errors.New("empty NDEF message")

// Record is a single NDEF record.
type Record struct {
	TNF     byte
	Type    []byte
	ID      []byte
	Payload []byte
}

// NewMediaRecord returns a MIME media record, e.g. "text/plain".
func NewMediaRecord(mimeType string, payload []byte) Record {
	return Record{TNF: TNFMedia, Type: []byte(mimeType), Payload: payload}
}

// ParseMessage decodes a raw NDEF message into its records.
// Parsing stops at the record carrying the ME flag.
func ParseMessage(msg []byte) ([]Record, error) {
	if len(msg) == 0 {
		return nil, ErrEmptyMessage
	}

	var records []Record
	r := byteReader{buf: msg}
	for r.remaining() > 0 {
		header, err := r.readByte("record header")
		if err != nil {
			return nil, err
		}
		if header&flagCF != 0 {
			return nil, Errorf(ErrCodeNDEFInvalid, "ParseMessage", "chunked records are not supported (offset %d)", r.pos-1)
		}

		typeLen, err := r.readByte("type length")
		if err != nil {
			return nil, err
		}

		var payloadLen int
		if header&flagSR != 0 {
			b, err := r.readByte("payload length")
			if err != nil {
				return nil, err
			}
			payloadLen = int(b)
		} else {
			b, err := r.next(4, "payload length")
			if err != nil {
				return nil, err
			}
			payloadLen = int(binary.BigEndian.Uint32(b))
		}

		var idLen byte
		if header&flagIL != 0 {
			if idLen, err = r.readByte("ID length"); err != nil {
				return nil, err
			}
		}

		rec := Record{TNF: header & maskTNF}
		if rec.Type, err = r.clone(int(typeLen), "type"); err != nil {
			return nil, err
		}
		if rec.ID, err = r.clone(int(idLen), "ID"); err != nil {
			return nil, err
		}
		if rec.Payload, err = r.clone(payloadLen, "payload"); err != nil {
			return nil, err
		}
		records = append(records, rec)

		if header&flagME != 0 {
			break
		}
	}

	if len(records) == 0 {
		return nil, ErrEmptyMessage
	}
	return records, nil
}

// FirstPayload returns the payload of the first record of msg.
func FirstPayload(msg []byte) ([]byte, error) {
	records, err := ParseMessage(msg)
	if err != nil {
		return nil, err
	}
	return records[0].Payload, nil
}

// EncodeMessage encodes records into a raw NDEF message.
func EncodeMessage(records ...Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, rec := range records {
		if len(rec.Type) > 0xFF || len(rec.ID) > 0xFF {
			return nil, Errorf(ErrCodeInvalidParameter, "EncodeMessage", "record %d: type or ID longer than 255 bytes", i)
		}

		header := rec.TNF & maskTNF
		if i == 0 {
			header |= flagMB
		}
		if i == len(records)-1 {
			header |= flagME
		}
		short := len(rec.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(rec.ID) > 0 {
			header |= flagIL
		}

		out = append(out, header, byte(len(rec.Type)))
		if short {
			out = append(out, byte(len(rec.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(rec.Payload)))
		}
		if len(rec.ID) > 0 {
			out = append(out, byte(len(rec.ID)))
		}
		out = append(out, rec.Type...)
		out = append(out, rec.ID...)
		out = append(out, rec.Payload...)
	}
	return out, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) readByte(field string) (byte, error) {
	b, err := r.next(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) next(n int, field string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, Errorf(ErrCodeNDEFInvalid, "ParseMessage", "truncated %s at offset %d", field, r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) clone(n int, field string) ([]byte, error) {
	b, err := r.next(n, field)
	if err != nil || n == 0 {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// String describes the record for logs.
func (rec Record) String() string {
	return fmt.Sprintf("tnf=%d type=%q payload=%d bytes", rec.TNF, rec.Type, len(rec.Payload))
}
