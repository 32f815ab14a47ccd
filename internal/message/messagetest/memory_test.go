package messagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/treehole/internal/message"
)

func TestSaveMissingRow(t *testing.T) {
	s := New()
	err := s.Save(context.Background(), &message.Message{ID: 42, SiteID: 1})
	assert.ErrorIs(t, err, message.ErrNotFound)

	m := s.Add(message.Message{SiteID: 1, CreatedAt: time.Now(), Text: "x"})
	err = s.Save(context.Background(), &message.Message{ID: m.ID, SiteID: 2})
	assert.ErrorIs(t, err, message.ErrNotFound, "other site")
}

func TestFinalizeAndDeletePendingOnlyTouchPending(t *testing.T) {
	s := New()
	ctx := context.Background()
	pending := s.Add(message.Message{SiteID: 1, CreatedAt: time.Now(), Text: "x", Closed: true})
	bid := int64(9)

	ok, err := s.Finalize(ctx, &message.Message{ID: pending.ID, SiteID: 1, BackendID: &bid, BackendReceipt: "r"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeletePending(ctx, &message.Message{ID: pending.ID, SiteID: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	m, err := s.Get(ctx, 1, pending.ID)
	require.NoError(t, err)
	assert.True(t, m.Finalized())
	assert.Equal(t, "r", m.BackendReceipt)

	ok, err = s.Finalize(ctx, &message.Message{ID: pending.ID, SiteID: 1, BackendID: &bid, BackendReceipt: "again"})
	require.NoError(t, err)
	assert.False(t, ok)

	open := s.Add(message.Message{SiteID: 1, CreatedAt: time.Now(), Text: "queued"})
	ok, err = s.DeletePending(ctx, &open)
	require.NoError(t, err)
	assert.False(t, ok, "open messages belong to moderation")
	assert.Equal(t, 2, s.Len())
}
