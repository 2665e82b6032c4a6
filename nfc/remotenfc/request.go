package remotenfc

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// DefaultMimeType is used for records presented without a MIME type.
const DefaultMimeType = "text/plain"

// DetectionFromRequest builds the tag described by an HTTP tag request.
// Tags without a UID get a random 7-byte one, the length NTAG chips use.
func DetectionFromRequest(req protocol.TagInputRequest) (nfc.Detection, error) {
	var det nfc.Detection

	if req.UID != "" {
		uid, err := protocol.ParseUID(req.UID)
		if err != nil {
			return det, fmt.Errorf("%s: %w", protocol.ErrCodeInvalidUID, err)
		}
		det.UID = uid
	} else {
		id := uuid.New()
		det.UID = protocol.FormatUID(id[:7])
	}

	switch {
	case len(req.NDEF) > 0:
		if _, err := nfc.ParseMessage(req.NDEF); err != nil {
			return det, fmt.Errorf("%s: %w", protocol.ErrCodeInvalidNDEF, err)
		}
		det.Message = req.NDEF
	case len(req.Records) > 0:
		records := make([]nfc.Record, 0, len(req.Records))
		for _, in := range req.Records {
			mime := in.MimeType
			if mime == "" {
				mime = DefaultMimeType
			}
			payload := in.Payload
			if payload == nil {
				payload = []byte(in.Content)
			}
			records = append(records, nfc.NewMediaRecord(mime, payload))
		}
		msg, err := nfc.EncodeMessage(records...)
		if err != nil {
			return det, fmt.Errorf("%s: %w", protocol.ErrCodeInvalidNDEF, err)
		}
		det.Message = msg
	}
	return det, nil
}
