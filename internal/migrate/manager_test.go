package migrate

import (
	"context"
	"io"
	"io/fs"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"

	"capitania.club/internal/obs"
)

func newMock(t *testing.T, fsys fs.FS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, fsys, WithLogger(obs.NewLogger(obs.LogConfig{Output: io.Discard}))), mock
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/0002_b.up.sql":   {Data: []byte("create table b (id int);")},
		"sql/migrations/0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"sql/migrations/0001_a.down.sql": {Data: []byte("drop table a;")},
		"sql/migrations/0003_c.up.sql":   {Data: []byte("create table c (id int); create index c_idx on c (id);")},
	}
	m, mock := newMock(t, fsys)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectExec("create table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index c_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0003_c.up.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))

	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"sql/migrations/0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	m, mock := newMock(t, fsys)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations order by").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	m, mock := newMock(t, fstest.MapFS{})
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations order by").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	if err := m.Down(context.Background()); err == nil {
		t.Fatal("expected error with no applied migrations")
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/seeds/0001_master.sql": {Data: []byte("insert into x values (1);")},
		"sql/seeds/0002_demo.sql":   {Data: []byte("insert into y values ('a;b');")},
	}
	m, mock := newMock(t, fsys)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_master.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("insert into y").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0002_demo.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))

	if err := m.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPending(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/migrations/0001_a.up.sql": {Data: []byte("select 1;")},
		"sql/migrations/0002_b.up.sql": {Data: []byte("select 2;")},
	}
	m, mock := newMock(t, fsys)
	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	pending, err := m.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if !reflect.DeepEqual(pending, []string{"0002_b.up.sql"}) {
		t.Fatalf("unexpected pending: %v", pending)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- leading comment; ignored
create table a (name text default 'x;y');
create function f() returns trigger as $$
begin
    new.updated_at = now();
    return new;
end;
$$ language plpgsql;

`
	got := splitStatements(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[0], "'x;y'") {
		t.Fatalf("quoted semicolon split: %q", got[0])
	}
	if !strings.HasSuffix(got[1], "$$ language plpgsql") {
		t.Fatalf("dollar-quoted body split: %q", got[1])
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	entries, err := fs.ReadDir(Embedded(), defaultMigrationsDir)
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	for name := range names {
		if strings.HasSuffix(name, ".up.sql") && !names[strings.TrimSuffix(name, ".up.sql")+".down.sql"] {
			t.Fatalf("missing down migration for %s", name)
		}
	}
	if len(splitStatements(string(mustRead(t, defaultMigrationsDir+"/0003_profiles_updated_at.up.sql")))) != 3 {
		t.Fatal("expected trigger migration to hold three statements")
	}
}

func mustRead(t *testing.T, name string) []byte {
	t.Helper()
	b, err := fs.ReadFile(Embedded(), name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return b
}
