package registry

import (
	"context"
	"errors"
	"testing"

	"agenda4go/internal/agenda"

	"github.com/stretchr/testify/require"
)

type welcomeEmail struct {
	UserID string `json:"user_id"`
}

func TestRegistry_DefineAndLookup(t *testing.T) {
	var got welcomeEmail
	h := NewTyped("send-welcome-email", func(_ context.Context, _ *agenda.ScheduledJob, payload welcomeEmail) error {
		got = payload
		return nil
	})

	r, err := New(h)
	require.NoError(t, err)

	found, err := r.Lookup("send-welcome-email")
	require.NoError(t, err)

	err = found.Run(context.Background(), &agenda.ScheduledJob{}, map[string]any{"user_id": "u-1"})
	require.NoError(t, err)
	require.Equal(t, "u-1", got.UserID)
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	h1 := NewTyped("dup", func(context.Context, *agenda.ScheduledJob, welcomeEmail) error { return nil })
	h2 := NewTyped("dup", func(context.Context, *agenda.ScheduledJob, welcomeEmail) error { return nil })

	_, err := New(h1, h2)
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrDuplicateHandler)
}

func TestRegistry_UnknownHandler(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	_, err = r.Lookup("missing")
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrUnknownHandler)
}

func TestTyped_HandlerErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	h := NewTyped("failing", func(context.Context, *agenda.ScheduledJob, welcomeEmail) error {
		return wantErr
	})

	err := h.Run(context.Background(), &agenda.ScheduledJob{}, nil)
	require.ErrorIs(t, err, wantErr)
}
