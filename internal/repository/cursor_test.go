package repository

import (
	"testing"
	"time"

	pulse_errors "pulse-dm/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 890123000, time.UTC), ID: uuid.New()}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestDecodeCursorEmptyAndMalformed(t *testing.T) {
	c, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, pulse_errors.ErrValidation)

	_, err = DecodeCursor("bm8tc2VwYXJhdG9y")
	assert.ErrorIs(t, err, pulse_errors.ErrValidation)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, DefaultPageSize, ClampLimit(-5))
	assert.Equal(t, 42, ClampLimit(42))
	assert.Equal(t, MaxPageSize, ClampLimit(1000))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now \\o/`, escapeLike(`50% off_now \o/`))
}
