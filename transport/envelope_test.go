package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := &Message{
		ID:   uuid.New(),
		Kind: "test.ping",
		Body: []byte("hello"),
	}

	frame, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	// small bodies are left uncompressed
	assert.Equal(t, byte(0), frame[3])

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Kind, decoded.Kind)
	assert.Equal(t, msg.Body, decoded.Body)
}

func TestEnvelopeEmptyMessage(t *testing.T) {
	msg := &Message{
		ID: uuid.New(),
	}

	frame, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "", decoded.Kind)
	assert.Nil(t, decoded.Body)
}

func TestEnvelopeCompressesLargeBodies(t *testing.T) {
	msg := &Message{
		ID:   uuid.New(),
		Kind: "test.bulk",
		Body: bytes.Repeat([]byte("msgbus"), 1024),
	}

	frame, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	assert.Equal(t, byte(envelopeFlagSnappyBody), frame[3])
	assert.Less(t, len(frame), len(msg.Body))

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, msg.Body, decoded.Body)
}

func TestEnvelopeSkipsUselessCompression(t *testing.T) {
	body := make([]byte, 4096)
	_, err := rand.New(rand.NewSource(42)).Read(body)
	require.NoError(t, err)

	msg := &Message{
		ID:   uuid.New(),
		Kind: "test.noise",
		Body: body,
	}

	frame, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	// incompressible bodies are shipped as-is rather than inflated
	assert.Equal(t, byte(0), frame[3])

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, msg.Body, decoded.Body)
}

func TestEnvelopeRejectsMalformedFrames(t *testing.T) {
	validFrame, err := EncodeEnvelope(NewMessage("test.ping", []byte("hello")))
	require.NoError(t, err)

	// truncated header
	_, err = DecodeEnvelope(validFrame[:10])
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	// bad magic
	badMagic := append([]byte(nil), validFrame...)
	badMagic[0] = 'X'
	_, err = DecodeEnvelope(badMagic)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	// unknown version
	badVersion := append([]byte(nil), validFrame...)
	badVersion[2] = 0x7f
	_, err = DecodeEnvelope(badVersion)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	// kind length running past the end of the frame
	badKindLen := append([]byte(nil), validFrame...)
	badKindLen[20] = 0xff
	badKindLen[21] = 0xff
	_, err = DecodeEnvelope(badKindLen)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	// compressed flag over a body that is not snappy data
	badBody := append([]byte(nil), validFrame...)
	badBody[3] = envelopeFlagSnappyBody
	_, err = DecodeEnvelope(badBody)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeRejectsOversizedKind(t *testing.T) {
	msg := &Message{
		ID:   uuid.New(),
		Kind: string(bytes.Repeat([]byte("k"), 70000)),
	}

	_, err := EncodeEnvelope(msg)
	require.Error(t, err)
}
