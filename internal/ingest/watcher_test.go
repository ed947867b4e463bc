package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegraph/filegraph/internal/fileevent"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		event   notify.Event
		regular bool
		want    fileevent.Kind
		ok      bool
	}{
		{"create regular", notify.Create, true, fileevent.KindCreated, true},
		{"rename target", notify.Rename, true, fileevent.KindMovedIn, true},
		{"rename source gone", notify.Rename, false, "", false},
		{"create directory", notify.Create, false, "", false},
		{"write", notify.Write, true, "", false},
		{"remove", notify.Remove, true, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, ok := classify(tc.event, tc.regular)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, kind)
		})
	}
}

func TestWatcher_EmitsCreated(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewDirectoryWatcher(dir)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "fresh.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, path, ev.Path)
		assert.Equal(t, fileevent.KindCreated, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for created file")
	}
}

func TestWatcher_BadRootIsFatal(t *testing.T) {
	w := NewDirectoryWatcher(filepath.Join(t.TempDir(), "does-not-exist"))
	err := w.Start(context.Background())
	assert.Error(t, err)
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	w := NewDirectoryWatcher(dir)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Stop")
	}
}
