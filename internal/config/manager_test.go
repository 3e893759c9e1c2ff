package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigManager_ParseMigratesLegacyLockLimitSentinel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenda4go.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agenda":{"lock_limit":-1}}`), 0o644))

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.NotNil(t, cfg.Agenda.LockLimit)
	require.Equal(t, 0, *cfg.Agenda.LockLimit, "legacy -1 sentinel must migrate to the current unbounded value of 0")
}

func TestConfigManager_ParseLeavesModernLockLimitAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenda4go.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agenda":{"lock_limit":5}}`), 0o644))

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.NotNil(t, cfg.Agenda.LockLimit)
	require.Equal(t, 5, *cfg.Agenda.LockLimit)
}

func TestConfigManager_ParseWithoutLockLimitLeavesItNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenda4go.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agenda":{"enabled":true}}`), 0o644))

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Nil(t, cfg.Agenda.LockLimit)
}

func TestConfigManager_LoadCommitsAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenda4go.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"sqlite","path":"./x.db"}}`), 0o644))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Same(t, cfg, m.Get())
}

func TestConfigManager_SubscribeUnsubscribe(t *testing.T) {
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	m.publish(&Config{})
	select {
	case <-ch:
	default:
		t.Fatal("expected buffered publish to be delivered")
	}
	m.Unsubscribe(ch)
	_, ok := <-ch
	require.False(t, ok, "channel should be closed after Unsubscribe")
}
