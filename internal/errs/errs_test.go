package errs_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-press-sync/internal/errs"
)

func TestKindAndPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		retryable bool
		aborts    bool
	}{
		{"config", errs.ConfigurationMissing("blog"), "configuration_missing", false, true},
		{"connection", errs.Newf(errs.ErrConnection, "dial tcp: refused"), "connection", true, true},
		{"auth", errs.Newf(errs.ErrAuthentication, "401"), "authentication", false, true},
		{"validation", errs.Newf(errs.ErrRemoteValidation, "400"), "remote_validation", false, false},
		{"local", errs.Wrapf(fmt.Errorf("disk full"), errs.ErrLocalPersistence, "save post"), "local_persistence", false, false},
		{"plain", fmt.Errorf("boom"), "internal", false, false},
		{"cancelled", fmt.Errorf("list posts: %w", context.Canceled), "cancelled", false, false},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "page 3"), "cancelled", false, false},
		{"timeout marked as connection", errs.Wrapf(context.DeadlineExceeded, errs.ErrConnection, "GET posts"), "connection", true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, errs.Kind(tc.err))
			assert.Equal(t, tc.retryable, errs.Retryable(tc.err))
			assert.Equal(t, tc.aborts, errs.AbortsPass(tc.err))
		})
	}
}

func TestMarkSurvivesWrapping(t *testing.T) {
	base := errs.Newf(errs.ErrConnection, "timeout")
	wrapped := fmt.Errorf("list posts: %w", errors.Wrap(base, "page 2"))
	require.True(t, errors.Is(wrapped, errs.ErrConnection))
	require.False(t, errors.Is(wrapped, errs.ErrAuthentication))
	require.Nil(t, errs.Mark(nil, errs.ErrConnection))
}

func TestIsSeesMarksThroughStdlibWrapping(t *testing.T) {
	err := fmt.Errorf("backup: %w", errs.ConfigurationMissing("blog"))
	assert.True(t, errs.Is(err, errs.ErrConfigurationMissing))
	assert.False(t, errs.Is(err, errs.ErrConnection))
	assert.False(t, errs.Is(nil, errs.ErrConnection))
}

func TestConfigurationMissingHasHint(t *testing.T) {
	err := errs.ConfigurationMissing("blog")
	require.NotEmpty(t, errs.Hints(err))
	require.Contains(t, err.Error(), "blog")
}
