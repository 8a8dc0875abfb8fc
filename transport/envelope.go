package transport

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// ErrInvalidEnvelope is returned when a received frame cannot be decoded.
var ErrInvalidEnvelope = errors.New("the message envelope is malformed")

const (
	envelopeMagic0  = 'M'
	envelopeMagic1  = 'B'
	envelopeVersion = 1

	envelopeFlagSnappyBody = 0x01

	envelopeHeaderLen = 4 + 16 + 2

	// bodies below this size are not worth compressing
	minCompressSize = 512
)

// EncodeEnvelope packs a message into its wire framing.  Bodies large
// enough to benefit are snappy compressed, but only when that actually
// makes the frame smaller.
func EncodeEnvelope(msg *Message) ([]byte, error) {
	kindBytes := []byte(msg.Kind)
	if len(kindBytes) > math.MaxUint16 {
		return nil, errors.New("the message kind is too long to encode")
	}

	var flags byte
	body := msg.Body
	if len(body) >= minCompressSize {
		compressed := snappy.Encode(make([]byte, snappy.MaxEncodedLen(len(body))), body)
		if len(compressed) < len(body) {
			body = compressed
			flags |= envelopeFlagSnappyBody
		}
	}

	frame := make([]byte, 0, envelopeHeaderLen+len(kindBytes)+len(body))
	frame = append(frame, envelopeMagic0, envelopeMagic1, envelopeVersion, flags)
	frame = append(frame, msg.ID[:]...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(kindBytes)))
	frame = append(frame, kindBytes...)
	frame = append(frame, body...)

	return frame, nil
}

// DecodeEnvelope unpacks a wire frame back into a message.  The returned
// body may alias the frame, callers must not modify the frame afterwards.
func DecodeEnvelope(frame []byte) (*Message, error) {
	if len(frame) < envelopeHeaderLen {
		return nil, ErrInvalidEnvelope
	}
	if frame[0] != envelopeMagic0 || frame[1] != envelopeMagic1 {
		return nil, ErrInvalidEnvelope
	}
	if frame[2] != envelopeVersion {
		return nil, ErrInvalidEnvelope
	}
	flags := frame[3]

	var id uuid.UUID
	copy(id[:], frame[4:20])

	kindLen := int(binary.BigEndian.Uint16(frame[20:22]))
	if len(frame) < envelopeHeaderLen+kindLen {
		return nil, ErrInvalidEnvelope
	}
	kind := string(frame[envelopeHeaderLen : envelopeHeaderLen+kindLen])

	body := frame[envelopeHeaderLen+kindLen:]
	if flags&envelopeFlagSnappyBody != 0 {
		out := make([]byte, len(body))
		out, err := snappy.Decode(out, body)
		if err != nil {
			return nil, ErrInvalidEnvelope
		}
		body = out
	}
	if len(body) == 0 {
		body = nil
	}

	return &Message{
		ID:   id,
		Kind: kind,
		Body: body,
	}, nil
}
