//go:build !integration

package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-sync/internal/domain"
)

func TestGetExecutor(t *testing.T) {
	_, err := getExecutor(nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = getExecutor(nil, 42)
	require.ErrorIs(t, err, domain.ErrInvalidExecContext)

	assert.False(t, inTx(nil))
	assert.False(t, inTx("tx"))
}
