package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/audit"
	"subsync/internal/language"
	"subsync/internal/scanner"
	"subsync/internal/store"
)

type zeroProber struct{}

func (zeroProber) Duration(_ context.Context, _ string) (time.Duration, error) {
	return 0, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScanService_RunNow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.wav"), []byte("audio"), 0o644))

	sc := scanner.New(st, []string{dir}, scanner.WithProber(zeroProber{}))
	stages := func() []store.Stage {
		return []store.Stage{store.StageTranscription, store.TranslationStage("de")}
	}
	svc := NewScanService(sc, stages, "*/15 * * * *", cron.New())

	svc.RunNow(ctx)

	media, err := st.ListMedia(ctx)
	require.NoError(t, err)
	require.Len(t, media, 1)

	statuses, err := st.FileStatuses(ctx, media[0].ID)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	info, err := svc.Trigger()
	require.NoError(t, err)
	assert.False(t, info.Next.IsZero())
}

func TestAuditService_RunNowRepairs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	mediaID, err := st.RegisterMedia(ctx, store.MediaFile{Path: path, Checksum: "cafe03"})
	require.NoError(t, err)
	require.NoError(t, st.EnsureStatuses(ctx, mediaID, []store.Stage{store.StageTranscription}))
	require.NoError(t, os.Remove(path))

	auditor := audit.New(st, language.NewLocalClassifier(), 0)
	svc := NewAuditService(auditor, st, true, 100, "0 3 * * *", cron.New())

	findings := svc.RunNow(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.KindMissingFile, findings[0].Kind)

	status, err := st.StageStatus(ctx, mediaID, store.StageTranscription)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, status.Status)
	assert.Zero(t, status.Attempts)
}

func TestAuditService_NoRepairLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	mediaID, err := st.RegisterMedia(ctx, store.MediaFile{Path: path, Checksum: "cafe04"})
	require.NoError(t, err)
	require.NoError(t, st.EnsureStatuses(ctx, mediaID, []store.Stage{store.StageTranscription}))

	// Complete the stage, then break the file.
	items, err := st.ClaimPending(ctx, store.StageTranscription, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, st.Complete(ctx, mediaID, store.StageTranscription))
	require.NoError(t, os.Remove(path))

	auditor := audit.New(st, language.NewLocalClassifier(), 0)
	svc := NewAuditService(auditor, st, false, 100, "0 3 * * *", cron.New())

	findings := svc.RunNow(ctx)
	require.Len(t, findings, 1)

	status, err := st.StageStatus(ctx, mediaID, store.StageTranscription)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, status.Status)
}
