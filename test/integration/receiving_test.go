package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

func insertDocuments(t *testing.T, ctx context.Context, repo receiving.Repository, table receiving.Table, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		id, err := repo.Insert(ctx, table, []byte(`{"barcode": "aaaaaaaa"}`))
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

// claimedAmong keeps the claimed ids that belong to ours, in claim order.
func claimedAmong(docs []*receiving.Document, ours []int64) []int64 {
	want := make(map[int64]bool, len(ours))
	for _, id := range ours {
		want[id] = true
	}
	var out []int64
	for _, d := range docs {
		if want[d.ID] {
			out = append(out, d.ID)
		}
	}
	return out
}

func TestClaim_SkipsTaggedRows(t *testing.T) {
	ctx, _ := session(t)
	repo := receiving.NewRepo(globalDB.Pool)
	tag := receiving.Tag{Name: unique("manifest"), Revision: 1}

	ids := insertDocuments(t, ctx, repo, receiving.Manifest, 3)

	docs, err := repo.Claim(ctx, receiving.Manifest, tag, receiving.ClaimOptions{})
	require.NoError(t, err)
	assert.Equal(t, ids, claimedAmong(docs, ids))

	require.NoError(t, repo.AppendLog(ctx, receiving.Manifest, ids[0], receiving.LogEntry{
		Tag: tag, Status: receiving.StatusProcessed, Timestamp: time.Now(),
	}))
	require.NoError(t, repo.AppendLog(ctx, receiving.Manifest, ids[1], receiving.LogEntry{
		Tag: tag, Status: receiving.StatusSkipped, Timestamp: time.Now(),
	}))

	docs, err = repo.Claim(ctx, receiving.Manifest, tag, receiving.ClaimOptions{})
	require.NoError(t, err)
	assert.Equal(t, ids[2:], claimedAmong(docs, ids), "processed and skipped rows are not claimed again")

	// A new revision makes every row eligible again.
	docs, err = repo.Claim(ctx, receiving.Manifest, receiving.Tag{Name: tag.Name, Revision: 2}, receiving.ClaimOptions{})
	require.NoError(t, err)
	assert.Equal(t, ids, claimedAmong(docs, ids))
}

func TestClaim_Limit(t *testing.T) {
	ctx, _ := session(t)
	repo := receiving.NewRepo(globalDB.Pool)
	tag := receiving.Tag{Name: unique("fhir"), Revision: 1}

	insertDocuments(t, ctx, repo, receiving.FHIR, 3)

	docs, err := repo.Claim(ctx, receiving.FHIR, tag, receiving.ClaimOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Less(t, docs[0].ID, docs[1].ID)
}

func TestClaim_SkipLocked(t *testing.T) {
	repo := receiving.NewRepo(globalDB.Pool)
	tag := receiving.Tag{Name: unique("clinical"), Revision: 1}

	var ids []int64
	committed(t, func(ctx context.Context) error {
		ids = insertDocuments(t, ctx, repo, receiving.Clinical, 2)
		return nil
	})

	// The first run holds the row locks until it ends.
	first, _ := session(t)
	docs, err := repo.Claim(first, receiving.Clinical, tag, receiving.ClaimOptions{})
	require.NoError(t, err)
	require.Equal(t, ids, claimedAmong(docs, ids))

	second, _ := session(t)
	docs, err = repo.Claim(second, receiving.Clinical, tag, receiving.ClaimOptions{SkipLocked: true})
	require.NoError(t, err)
	assert.Empty(t, claimedAmong(docs, ids))

	// Without skip locked the second run would wait; a short deadline
	// shows it blocks.
	waiting, cancel := context.WithTimeout(second, 200*time.Millisecond)
	defer cancel()
	_, err = repo.Claim(waiting, receiving.Clinical, tag, receiving.ClaimOptions{})
	assert.Error(t, err)
}

func TestAppendLog(t *testing.T) {
	ctx, _ := session(t)
	repo := receiving.NewRepo(globalDB.Pool)
	ids := insertDocuments(t, ctx, repo, receiving.PresenceAbsence, 1)

	first := receiving.LogEntry{
		Tag:       receiving.Tag{Name: "presence-absence", Revision: 8},
		Status:    receiving.StatusProcessed,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Extra:     map[string]any{"details": "ok"},
	}
	second := receiving.LogEntry{
		Tag:       receiving.Tag{Name: "presence-absence", Revision: 9},
		Status:    receiving.StatusSkipped,
		Timestamp: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.AppendLog(ctx, receiving.PresenceAbsence, ids[0], first))
	require.NoError(t, repo.AppendLog(ctx, receiving.PresenceAbsence, ids[0], second))

	log, err := repo.ProcessingLog(ctx, receiving.PresenceAbsence, ids[0])
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, first.Tag, log[0].Tag)
	assert.Equal(t, receiving.StatusProcessed, log[0].Status)
	assert.Equal(t, "ok", log[0].Extra["details"])
	assert.True(t, first.Timestamp.Equal(log[0].Timestamp))
	assert.Equal(t, second.Tag, log[1].Tag)

	err = repo.AppendLog(ctx, receiving.PresenceAbsence, -1, first)
	assert.Error(t, err)
}

func TestUpload_RejectsWholeFileOnBadLine(t *testing.T) {
	ctx, sess := session(t)
	repo := receiving.NewRepo(globalDB.Pool)

	n, err := repo.CopyNDJSON(ctx, receiving.Enrollment, strings.NewReader("{\"a\": 1}\n{\"a\": 2}\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	err = db.WithSavepoint(ctx, sess, "bad upload", func(ctx context.Context) error {
		_, err := repo.CopyNDJSON(ctx, receiving.Enrollment, strings.NewReader("{\"a\": 3}\nnot json\n"))
		return err
	})
	assert.ErrorContains(t, err, "line 2")
}
