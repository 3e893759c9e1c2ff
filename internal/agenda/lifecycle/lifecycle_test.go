package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agenda4go/internal/agenda/engine"
	"agenda4go/internal/agenda/registry"
	"agenda4go/internal/agenda/store"
	"agenda4go/internal/eventbus"

	logx "agenda4go/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestBind_StartsAndStopsWithoutSystemd(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(context.Background(), store.Config{Driver: "sqlite", Path: filepath.Join(dir, "agenda.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := registry.New()
	require.NoError(t, err)

	svc := engine.New(engine.Config{Enabled: true, ProcessEvery: 20 * time.Millisecond}, logx.Nop(), eventbus.New(), st, reg)

	binding, err := Bind(context.Background(), svc, logx.Nop(), Options{StopTimeout: time.Second})
	require.NoError(t, err)

	binding.Stop(context.Background())
}
