package errors_test

import (
	"io"
	"testing"

	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "redeem %s", "abc"))

	err := apperrors.Wrapf(apperrors.ErrInvalidRefreshToken, "redeem %s", "abc")
	require.EqualError(t, err, "redeem abc: invalid refresh token")
	require.True(t, apperrors.Is(err, apperrors.ErrInvalidRefreshToken))
	require.False(t, apperrors.Is(err, io.EOF))
}
