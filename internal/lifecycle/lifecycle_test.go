package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name   string
		from   domain.RunStatus
		event  string
		expect domain.RunStatus
		ok     bool
	}{
		{"start", domain.StatusPending, EventStart, domain.StatusRunning, true},
		{"complete", domain.StatusRunning, EventComplete, domain.StatusCompleted, true},
		{"fail running", domain.StatusRunning, EventFail, domain.StatusError, true},
		{"fail pending", domain.StatusPending, EventFail, domain.StatusError, true},
		{"cancel", domain.StatusRunning, EventCancel, domain.StatusCancelled, true},
		{"complete pending", domain.StatusPending, EventComplete, domain.StatusPending, false},
		{"restart completed", domain.StatusCompleted, EventStart, domain.StatusCompleted, false},
		{"fail terminal", domain.StatusError, EventFail, domain.StatusError, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(context.Background(), tc.from, tc.event)
			assert.Equal(t, tc.expect, got)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errs.CodeUnknown, errs.CodeOf(err))
		})
	}
}

func TestCan(t *testing.T) {
	assert.True(t, Can(domain.StatusPending, EventStart))
	assert.False(t, Can(domain.StatusCancelled, EventStart))
}

func TestNextIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := Next(ctx, domain.StatusRunning, EventFail)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got)
}
