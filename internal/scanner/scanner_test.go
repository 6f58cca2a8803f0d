package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/store"
)

type fixedProber struct {
	duration time.Duration
	err      error
	calls    int
}

func (p *fixedProber) Duration(_ context.Context, _ string) (time.Duration, error) {
	p.calls++
	return p.duration, p.err
}

var testStages = []store.Stage{
	store.StageTranscription,
	store.TranslationStage("de"),
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScan_RegistersNewFiles(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.wav"), []byte("audio one"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "two.mkv"), []byte("video two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not media"), 0o644))

	prober := &fixedProber{duration: 90 * time.Second}
	s := New(st, []string{dir}, WithProber(prober))

	summary, err := s.Scan(ctx, testStages)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 2, summary.Registered)
	assert.Equal(t, 2, prober.calls)

	media, err := st.ListMedia(ctx)
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, 90*time.Second, media[0].Duration)

	statuses, err := st.FileStatuses(ctx, media[0].ID)
	require.NoError(t, err)
	assert.Len(t, statuses, len(testStages))
}

func TestScan_RescanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.wav"), []byte("audio one"), 0o644))

	s := New(st, []string{dir}, WithProber(&fixedProber{}))

	_, err := s.Scan(ctx, testStages)
	require.NoError(t, err)

	summary, err := s.Scan(ctx, testStages)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Zero(t, summary.Registered)
	assert.Equal(t, 1, summary.Known)

	media, err := st.ListMedia(ctx)
	require.NoError(t, err)
	assert.Len(t, media, 1)
}

func TestScan_MovedFileKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "one.wav")
	require.NoError(t, os.WriteFile(oldPath, []byte("audio one"), 0o644))

	s := New(st, []string{dir}, WithProber(&fixedProber{}))
	_, err := s.Scan(ctx, testStages)
	require.NoError(t, err)

	before, err := st.ListMedia(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	newPath := filepath.Join(dir, "renamed.wav")
	require.NoError(t, os.Rename(oldPath, newPath))

	summary, err := s.Scan(ctx, testStages)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Moved)

	after, err := st.GetMedia(ctx, before[0].ID)
	require.NoError(t, err)
	assert.Equal(t, newPath, after.Path)
}

func TestScan_NewStagesForKnownFiles(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.wav"), []byte("audio one"), 0o644))

	s := New(st, []string{dir}, WithProber(&fixedProber{}))
	_, err := s.Scan(ctx, testStages)
	require.NoError(t, err)

	widened := append(testStages, store.TranslationStage("fr"))
	_, err = s.Scan(ctx, widened)
	require.NoError(t, err)

	media, err := st.ListMedia(ctx)
	require.NoError(t, err)
	statuses, err := st.FileStatuses(ctx, media[0].ID)
	require.NoError(t, err)
	assert.Len(t, statuses, 3)
}

func TestScan_ProbeFailureStillRegisters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.wav"), []byte("audio one"), 0o644))

	s := New(st, []string{dir}, WithProber(&fixedProber{err: os.ErrNotExist}))
	summary, err := s.Scan(ctx, testStages)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Registered)

	media, err := st.ListMedia(ctx)
	require.NoError(t, err)
	assert.Zero(t, media[0].Duration)
}

func TestScan_CustomExtensions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.opus"), []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.wav"), []byte("audio two"), 0o644))

	s := New(st, []string{dir}, WithProber(&fixedProber{}), WithExtensions([]string{"opus"}))
	summary, err := s.Scan(ctx, testStages)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
}
