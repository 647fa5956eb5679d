package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundtrip(t *testing.T) {
	in := Envelope{
		ID:           "42",
		GroupKey:     "course-1",
		Payload:      []byte(`{"course_id":"course-1","status":"published"}`),
		EnqueueTime:  time.UnixMilli(1_700_000_000_000).UTC(),
		ReceiveCount: 2,
		Seq:          9,
		LastError:    "db timeout",
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRecordCorruption(t *testing.T) {
	b, err := Encode(Envelope{ID: "a", GroupKey: "g", Payload: []byte("p")})
	require.NoError(t, err)

	flipped := append([]byte(nil), b...)
	flipped[len(flipped)-1] ^= 0xFF
	_, err = Decode(flipped)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(b[:5])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode([]byte{0, 0, 1, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"valid", Envelope{ID: "1", GroupKey: "g"}, true},
		{"missing id", Envelope{GroupKey: "g"}, false},
		{"missing group", Envelope{ID: "1"}, false},
		{"nul in group", Envelope{ID: "1", GroupKey: "a\x00b"}, false},
		{"nul in id", Envelope{ID: "a\x00", GroupKey: "g"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestContentIDDeterministic(t *testing.T) {
	a := ContentID([]byte("same body"))
	assert.Equal(t, a, ContentID([]byte("same body")))
	assert.NotEqual(t, a, ContentID([]byte("other body")))
	assert.Len(t, a, 64)
}
