package audit

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestPostgres_Record_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPostgres(db)

	ctx := context.Background()
	ev := Event{
		ID:         uuid.Must(uuid.NewV4()),
		DocumentID: uuid.Must(uuid.NewV4()),
		Actor:      "alice@example.com",
		Action:     ActionDecrypt,
		Detail:     "contract.pdf",
		At:         time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO audit_events \(id, document_id, actor, action, detail, at\)`).
		WithArgs(ev.ID, ev.DocumentID, ev.Actor, ev.Action, ev.Detail, ev.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Record(ctx, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Record_FillsDefaults(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPostgres(db)

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "bob@example.com", ActionSign, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ev := Event{DocumentID: uuid.Must(uuid.NewV4()), Actor: "bob@example.com", Action: ActionSign}
	require.NoError(t, r.Record(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListByDocument(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPostgres(db)

	docID := uuid.Must(uuid.NewV4())
	evID := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, document_id, actor, action, detail, at`).
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "actor", "action", "detail", "at"}).
			AddRow(evID, docID, "alice@example.com", ActionDecrypt, "", at))

	out, err := r.ListByDocument(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, evID, out[0].ID)
	require.Equal(t, ActionDecrypt, out[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_RecordAndList(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	docID := uuid.Must(uuid.NewV4())

	require.NoError(t, m.Record(context.Background(), Event{DocumentID: docID, Actor: "a@x", Action: ActionDecrypt}))
	require.NoError(t, m.Record(context.Background(), Event{DocumentID: docID, Actor: "a@x", Action: ActionSign}))

	evs := m.Events()
	require.Len(t, evs, 2)
	require.False(t, evs[0].ID.IsNil())
	require.False(t, evs[0].At.IsZero())
	require.Equal(t, ActionSign, evs[1].Action)
}
