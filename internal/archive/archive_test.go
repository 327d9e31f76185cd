package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/prophet/pkg/types"
)

func TestMemStore_SaveAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var s MemStore

	for i := 1; i <= 3; i++ {
		c := Conversation{ID: fmt.Sprintf("c%d", i), Subject: "topic"}
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.Save(ctx, Conversation{ID: "c2", Subject: "replaced"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, _ := s.List(ctx, 0)
	if len(all) != 3 || all[0].ID != "c3" || all[2].ID != "c1" {
		t.Fatalf("List(0) = %+v, want newest first", all)
	}
	if all[1].Subject != "replaced" {
		t.Fatalf("Save must replace an existing ID, got %q", all[1].Subject)
	}
	two, _ := s.List(ctx, 2)
	if len(two) != 2 {
		t.Fatalf("List(2) returned %d entries", len(two))
	}
}

func TestMemStore_SaveCopiesTranscript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var s MemStore

	transcript := []types.Utterance{{ID: "u1", Content: "hello"}}
	_ = s.Save(ctx, Conversation{ID: "c", Transcript: transcript})
	transcript[0].Content = "mutated"

	got, _ := s.List(ctx, 1)
	if got[0].Transcript[0].Content != "hello" {
		t.Fatal("Save must copy the transcript")
	}
}

// ---- postgres fakes ----

type fakeRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type %T", dest[i])
		}
	}
	return nil
}

type fakeDB struct {
	execSQL  string
	execArgs []any
	execErr  error
	queryArg []any
	rows     *fakeRows
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.queryArg = args
	return f.rows, nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL, f.execArgs = sql, args
	return pgconn.CommandTag{}, f.execErr
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPostgresStore(db)
	c := Conversation{
		ID:             "c1",
		Subject:        "the nature of time",
		ParticipantIDs: []string{"a", "b"},
		Transcript:     []types.Utterance{{ID: "u1", Content: "Let's discuss: the nature of time", Human: true}},
		CreatedAt:      time.Now(),
	}
	if err := s.Save(context.Background(), c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(db.execSQL, "INSERT INTO conversations") {
		t.Fatalf("unexpected SQL: %s", db.execSQL)
	}
	var transcript []types.Utterance
	if err := sonic.Unmarshal(db.execArgs[3].([]byte), &transcript); err != nil {
		t.Fatalf("transcript arg is not JSON: %v", err)
	}
	if len(transcript) != 1 || !transcript[0].Human {
		t.Fatalf("transcript = %+v", transcript)
	}

	db.execErr = errors.New("disk full")
	if err := s.Save(context.Background(), c); err == nil {
		t.Fatal("Save should surface Exec errors")
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	db := &fakeDB{rows: &fakeRows{data: [][]any{
		{"c1", "time", []byte(`["a","b"]`), []byte(`[{"id":"u1","content":"hi","timestamp":"2025-01-01T00:00:00Z","human":false}]`), now},
	}}}

	got, err := NewPostgresStore(db).List(context.Background(), 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ParticipantIDs[1] != "b" || got[0].Transcript[0].Content != "hi" {
		t.Fatalf("List() = %+v", got)
	}
	if len(db.queryArg) != 1 || db.queryArg[0] != 5 {
		t.Fatalf("limit arg = %v, want [5]", db.queryArg)
	}
	if !db.rows.closed {
		t.Fatal("rows not closed")
	}
}
