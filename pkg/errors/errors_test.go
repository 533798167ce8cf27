package pulse_errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrValidation, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrConflict, ErrRateExceeded, ErrTransport, ErrUpstream} {
		wrapped := fmt.Errorf("%w: extra context", sentinel)
		assert.Equal(t, sentinel, FromCode(Code(wrapped)))
	}
}

func TestCodeUnknown(t *testing.T) {
	assert.Equal(t, "INTERNAL_ERROR", Code(fmt.Errorf("boom")))
	assert.Equal(t, "", Code(nil))
	assert.Nil(t, FromCode("INTERNAL_ERROR"))
}
