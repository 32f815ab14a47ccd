// internal/message/store_test.go
//
// Unit-tests for the sqlx message store using sqlmock.

package message

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var cols = []string{"id", "site_id", "created_at", "identity", "text", "closed",
	"approved", "backend_id", "backend_receipt"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "mysql")), mock
}

func TestStoreGet(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM message WHERE id = ? AND site_id = ? LIMIT 1`)).
		WithArgs(int64(9), int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(9, 3, now, "1.2.3.0", "hello", true, true, 4, "r1"))

	m, err := s.Get(context.Background(), 3, 9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.ID != 9 || !m.Closed || m.Approved == nil || !*m.Approved || *m.BackendID != 4 {
		t.Fatalf("unexpected message: %+v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM message WHERE id = ? AND site_id = ?`)).
		WithArgs(int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows(cols))

	if _, err := s.Get(context.Background(), 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreFindThrottleWindow(t *testing.T) {
	s, mock := newMock(t)
	after := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		`WHERE site_id = ? AND identity = ? AND created_at > ? ` +
			`AND closed = 1 AND (approved IS NULL OR approved = 1) ` +
			`ORDER BY created_at ASC, id ASC`)).
		WithArgs(int64(3), "10.0.0.0", after).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 3, after.Add(time.Second), "10.0.0.0", "a", true, nil, nil, ""))

	got, err := s.Find(context.Background(), 3, Filter{
		Identity: "10.0.0.0",
		After:    after,
		Live:     true,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].Approved != nil || got[0].BackendID != nil {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreFindQueueNewestFirst(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`WHERE site_id = ? AND closed = ? AND approved IS NULL ORDER BY created_at DESC, id DESC LIMIT ?`)).
		WithArgs(int64(3), false, 50).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err := s.Find(context.Background(), 3, Filter{
		Closed:    BoolPtr(false),
		Undecided: true,
		Order:     NewestFirst,
		Limit:     50,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreSaveInsertThenUpdate(t *testing.T) {
	s, mock := newMock(t)
	m := &Message{SiteID: 3, CreatedAt: time.Now(), Identity: "1.2.3.4", Text: "hi", Closed: true}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO message`)).
		WithArgs(int64(3), sqlmock.AnyArg(), "1.2.3.4", "hi", true, nil, nil, "").
		WillReturnResult(sqlmock.NewResult(77, 1))

	backendID := int64(5)
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE message SET closed = ?, approved = ?, backend_id = ?, backend_receipt = ? WHERE id = ? AND site_id = ?`)).
		WithArgs(true, true, backendID, "ok", int64(77), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if m.ID != 77 {
		t.Fatalf("ID = %d, want 77", m.ID)
	}

	m.Approved = BoolPtr(true)
	m.BackendID = &backendID
	m.BackendReceipt = "ok"
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreCloseIfOpen(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta(`UPDATE message SET closed = 1, approved = ? WHERE id = ? AND site_id = ? AND closed = 0`)

	mock.ExpectExec(q).WithArgs(false, int64(4), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(false, int64(4), int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.CloseIfOpen(context.Background(), 3, 4, false)
	if err != nil || !ok {
		t.Fatalf("first toggle = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.CloseIfOpen(context.Background(), 3, 4, false)
	if err != nil || ok {
		t.Fatalf("second toggle = %v, %v; want false, nil", ok, err)
	}
}

func TestStoreFinalizeOnlyPending(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta(`UPDATE message SET approved = 1, backend_id = ?, backend_receipt = ? ` +
		`WHERE id = ? AND site_id = ? AND closed = 1 AND approved IS NULL AND backend_id IS NULL`)
	backendID := int64(5)

	mock.ExpectExec(q).WithArgs(backendID, "r-1", int64(4), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(backendID, "r-2", int64(4), int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	m := &Message{ID: 4, SiteID: 3, Closed: true, BackendID: &backendID, BackendReceipt: "r-1"}
	ok, err := s.Finalize(context.Background(), m)
	if err != nil || !ok {
		t.Fatalf("first finalize = %v, %v; want true, nil", ok, err)
	}
	if !m.Finalized() {
		t.Errorf("message not marked finalized")
	}

	m2 := &Message{ID: 4, SiteID: 3, Closed: true, BackendID: &backendID, BackendReceipt: "r-2"}
	ok, err = s.Finalize(context.Background(), m2)
	if err != nil || ok {
		t.Fatalf("second finalize = %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreDeletePendingSkipsDecided(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta(`DELETE FROM message WHERE id = ? AND site_id = ? ` +
		`AND closed = 1 AND approved IS NULL AND backend_id IS NULL`)

	mock.ExpectExec(q).WithArgs(int64(4), int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.DeletePending(context.Background(), &Message{ID: 4, SiteID: 3})
	if err != nil || ok {
		t.Fatalf("DeletePending = %v, %v; want false, nil", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreInSiteLocksAndCommits(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM site WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM message WHERE id = ? AND site_id = ?`)).
		WithArgs(int64(8), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InSite(context.Background(), 3, func(r Repository) error {
		// Nested scopes reuse the same transaction.
		return r.InSite(context.Background(), 3, func(inner Repository) error {
			_, err := inner.DeletePending(context.Background(), &Message{ID: 8, SiteID: 3})
			return err
		})
	})
	if err != nil {
		t.Fatalf("InSite: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestStoreInSiteRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectRollback()

	err := s.InSite(context.Background(), 3, func(Repository) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
