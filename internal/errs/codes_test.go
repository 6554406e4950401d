package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodesRoundTrip(t *testing.T) {
	for _, c := range codes {
		wrapped := fmt.Errorf("context: %w", c.err)
		require.Equal(t, c.code, Code(wrapped))
		require.ErrorIs(t, FromCode(c.code), c.err)
	}
	require.Equal(t, "internal", Code(errors.New("boom")))
	require.Nil(t, FromCode("internal"))
}
