package nfc

import (
	"errors"
	"fmt"
)

// APDU status words
const (
	SW1Success  = 0x90
	SW2Success  = 0x00
	SW1MoreData = 0x61
)

// PC/SC pseudo-APDU class and instructions (PC/SC Part 3).
const (
	CLAPCSC       = 0xFF
	INSGetData    = 0xCA
	INSReadBinary = 0xB0
)

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// Err returns an error if the response is not successful
func (r APDUResponse) Err() error {
	if r.IsSuccess() || r.SW1 == SW1MoreData {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// ParseAPDUResponse splits a raw response into data and status word.
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errors.New("response too short")
	}
	return APDUResponse{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// GetUIDAPDU returns FF CA 00 00 00, which asks the reader for the card UID.
func GetUIDAPDU() []byte {
	return []byte{CLAPCSC, INSGetData, 0x00, 0x00, 0x00}
}

// ReadBinaryAPDU returns a READ BINARY for length bytes starting at block.
// On Type 2 tags a block is one 4-byte page.
func ReadBinaryAPDU(block, length byte) []byte {
	return []byte{CLAPCSC, INSReadBinary, 0x00, block, length}
}
