package envelope

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

// Record layout: headerLen(4B BE) | JSON header | payload | crc32c(header|payload)

// ErrCorrupt is returned when a stored record is truncated or fails its checksum.
var ErrCorrupt = errors.New("envelope: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes e into the on-disk record format.
func Encode(e Envelope) ([]byte, error) {
	header, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode header: %w", err)
	}
	out := make([]byte, 4, 4+len(header)+len(e.Payload)+4)
	binary.BigEndian.PutUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, e.Payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, e.Payload)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

// Decode parses a record produced by Encode. The returned envelope does not
// alias b.
func Decode(b []byte) (Envelope, error) {
	if len(b) < 8 {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(b))
	}
	hlen := int(binary.BigEndian.Uint32(b[:4]))
	if 4+hlen+4 > len(b) {
		return Envelope{}, fmt.Errorf("%w: header length %d exceeds record", ErrCorrupt, hlen)
	}
	header := b[4 : 4+hlen]
	payload := b[4+hlen : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Envelope{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	var e Envelope
	if err := json.Unmarshal(header, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	e.Payload = append([]byte(nil), payload...)
	return e, nil
}
