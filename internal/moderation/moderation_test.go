package moderation

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/message/messagetest"
)

const siteID = int64(4)

func queued(store *messagetest.Memory, text string) int64 {
	return store.Add(message.Message{
		SiteID:    siteID,
		CreatedAt: time.Now(),
		Identity:  "9.9.9.9",
		Text:      text,
	}).ID
}

func service(store message.Repository, fn backend.PublisherFunc) (*Service, *backend.Instance) {
	inst := backend.NewInstance(backend.Record{ID: 2, Kind: "stub"}, fn)
	return New(store, backend.NewGateway(time.Second)), inst
}

func TestApproveWinsOverReject(t *testing.T) {
	store := messagetest.New()
	a := queued(store, "first")
	b := queued(store, "second")

	var published []string
	svc, inst := service(store, func(_ context.Context, text string, in url.Values) backend.Result {
		published = append(published, text+"#"+in.Get(backend.InputMessageID))
		return backend.Published("ok")
	})

	rep := svc.Process(context.Background(), Batch{
		SiteID:  siteID,
		Backend: inst,
		Approve: []int64{a},
		Reject:  []int64{a, b, b},
	})

	assert.Equal(t, []int64{a}, rep.ToApprove)
	assert.Equal(t, []int64{b}, rep.ToReject)
	assert.Equal(t, []int64{a}, rep.Approved)
	assert.Equal(t, []int64{b}, rep.Rejected)
	assert.Empty(t, rep.NotApproved)
	assert.Empty(t, rep.NotRejected)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, []string{"first#1"}, published)

	ctx := context.Background()
	ma, err := store.Get(ctx, siteID, a)
	require.NoError(t, err)
	assert.True(t, ma.Finalized())
	assert.True(t, *ma.Approved)
	require.NotNil(t, ma.BackendID)
	assert.Equal(t, int64(2), *ma.BackendID)
	assert.Equal(t, "ok", ma.BackendReceipt)

	mb, err := store.Get(ctx, siteID, b)
	require.NoError(t, err)
	assert.True(t, mb.Closed)
	assert.False(t, *mb.Approved)
	assert.Nil(t, mb.BackendID)
}

func TestMissingAndDecidedAreSkipped(t *testing.T) {
	store := messagetest.New()
	done := store.Add(message.Message{
		SiteID: siteID, Text: "old", Closed: true, Approved: message.BoolPtr(true),
	}).ID
	elsewhere := store.Add(message.Message{SiteID: siteID + 1, Text: "other site"}).ID

	calls := 0
	svc, inst := service(store, func(context.Context, string, url.Values) backend.Result {
		calls++
		return backend.Published("")
	})

	rep := svc.Process(context.Background(), Batch{
		SiteID:  siteID,
		Backend: inst,
		Approve: []int64{done, 404},
		Reject:  []int64{elsewhere},
	})

	assert.Empty(t, rep.Approved)
	assert.Empty(t, rep.Rejected)
	assert.ElementsMatch(t, []int64{done, 404}, rep.NotApproved)
	assert.Equal(t, []int64{elsewhere}, rep.NotRejected)
	assert.Equal(t, ErrAlreadyDecided.Error(), rep.Errors[404])
	assert.Zero(t, calls)
}

func TestFailedApprovalReturnsToQueue(t *testing.T) {
	store := messagetest.New()
	rejected := queued(store, "refused")
	captcha := queued(store, "needs login")

	svc, inst := service(store, func(_ context.Context, text string, _ url.Values) backend.Result {
		if text == "refused" {
			return backend.Rejected(errors.New("remote said no"))
		}
		return backend.NeedsInput(backend.Form{Name: "login"})
	})

	rep := svc.Process(context.Background(), Batch{
		SiteID:  siteID,
		Backend: inst,
		Approve: []int64{rejected, captcha},
	})

	assert.Empty(t, rep.Approved)
	assert.Equal(t, []int64{rejected, captcha}, rep.NotApproved)
	assert.Contains(t, rep.Errors[rejected], "remote said no")
	require.Len(t, rep.Forms[captcha], 1)
	assert.Equal(t, "login", rep.Forms[captcha][0].Name)

	for _, id := range []int64{rejected, captcha} {
		m, err := store.Get(context.Background(), siteID, id)
		require.NoError(t, err)
		assert.False(t, m.Closed)
		assert.Nil(t, m.Approved)
	}

	open, err := store.Find(context.Background(), siteID, message.Filter{Closed: message.BoolPtr(false)})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestApproveWithoutBackendReverts(t *testing.T) {
	store := messagetest.New()
	id := queued(store, "x")
	svc := New(store, backend.NewGateway(time.Second))

	rep := svc.Process(context.Background(), Batch{SiteID: siteID, Approve: []int64{id}})
	assert.Equal(t, []int64{id}, rep.NotApproved)
	assert.Contains(t, rep.Errors[id], backend.ErrNoBackend.Error())

	m, err := store.Get(context.Background(), siteID, id)
	require.NoError(t, err)
	assert.False(t, m.Closed)
}
