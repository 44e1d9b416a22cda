package scratch

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"
)

func TestCreateUniqueNames(t *testing.T) {
	d := New(memfs.New())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		f, err := d.Create(".zip")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(f.Name(), "portal-"), f.Name())
		require.True(t, strings.HasSuffix(f.Name(), ".zip"), f.Name())
		require.False(t, seen[f.Name()], "duplicate name %s", f.Name())
		seen[f.Name()] = true
		require.NoError(t, f.Close())
	}
}

func TestCreateReadBack(t *testing.T) {
	d := New(memfs.New(), WithPrefix("chunk-"))

	f, err := d.Create("")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello scratch"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := d.Open(f.Name())
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello scratch", string(data))

	info, err := d.Stat(f.Name())
	require.NoError(t, err)
	require.EqualValues(t, len("hello scratch"), info.Size())
}

func TestRemoveIdempotent(t *testing.T) {
	d := New(memfs.New())

	f, err := d.Create(".tmp")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.True(t, d.Exists(f.Name()))
	require.NoError(t, d.Remove(f.Name()))
	require.False(t, d.Exists(f.Name()))
	require.NoError(t, d.Remove(f.Name()), "removing a missing file must not fail")
}

func TestOpenOSDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "scratch")

	d, err := Open(root)
	require.NoError(t, err)

	f, err := d.Create(".part")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.FileExists(t, filepath.Join(root, f.Name()))
	require.NoError(t, d.Remove(f.Name()))
	require.NoFileExists(t, filepath.Join(root, f.Name()))
}

func newFile(t *testing.T, d *Dir) string {
	t.Helper()
	f, err := d.Create(".zip")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestScheduleDeletesAfterDelay(t *testing.T) {
	d := New(memfs.New())
	s := NewScheduler(d)
	defer s.Close()

	name := newFile(t, d)
	start := time.Now()
	task := s.Schedule(name, 150*time.Millisecond)

	require.Equal(t, name, task.Name())
	require.False(t, task.Deadline().Before(start.Add(150*time.Millisecond)))
	require.True(t, d.Exists(name), "file removed before grace delay")
	require.Equal(t, 1, s.Pending())

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("deletion did not run")
	}

	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.False(t, d.Exists(name))
	require.Equal(t, 0, s.Pending())
}

func TestScheduleMissingFileIsSwallowed(t *testing.T) {
	d := New(memfs.New())
	s := NewScheduler(d)
	defer s.Close()

	task := s.Schedule("never-existed.zip", time.Millisecond)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("deletion did not run")
	}
}

func TestCancelKeepsFile(t *testing.T) {
	d := New(memfs.New())
	s := NewScheduler(d)
	defer s.Close()

	name := newFile(t, d)
	task := s.Schedule(name, time.Hour)

	require.True(t, task.Cancel())
	require.False(t, task.Cancel(), "second cancel must report false")
	<-task.Done()

	require.True(t, d.Exists(name))
	require.Equal(t, 0, s.Pending())
}

func TestCloseFlushesPending(t *testing.T) {
	d := New(memfs.New())
	s := NewScheduler(d)

	var names []string
	for i := 0; i < 3; i++ {
		name := newFile(t, d)
		names = append(names, name)
		s.Schedule(name, time.Hour)
	}
	require.Equal(t, 3, s.Pending())

	s.Close()

	for _, name := range names {
		require.False(t, d.Exists(name), "%s survived Close", name)
	}
	require.Equal(t, 0, s.Pending())

	// After Close deletion is immediate.
	late := newFile(t, d)
	task := s.Schedule(late, time.Hour)
	<-task.Done()
	require.False(t, d.Exists(late))
}
