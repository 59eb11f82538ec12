package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustDial(t *testing.T, d Dialer) Conn {
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v\n", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// testConformance checks the put, reserve, release, delete cycle of a backend
func testConformance(t *testing.T, d Dialer) {
	producer := mustDial(t, d)
	if err := producer.Use("alprd"); err != nil {
		t.Fatalf("use: %v\n", err)
	}
	for _, body := range []string{"one", "two"} {
		if _, err := producer.Put([]byte(body)); err != nil {
			t.Fatalf("put %s: %v\n", body, err)
		}
	}

	consumer := mustDial(t, d)
	if err := consumer.Watch("alprd"); err != nil {
		t.Fatalf("watch: %v\n", err)
	}
	first, err := consumer.Reserve(2 * time.Second)
	if err != nil {
		t.Fatalf("reserve: %v\n", err)
	}
	if first.Releases != 0 {
		t.Fatalf("fresh job releases = %d, expected 0\n", first.Releases)
	}
	if err := consumer.Release(first); err != nil {
		t.Fatalf("release: %v\n", err)
	}

	seen := map[string]Job{}
	for i := 0; i < 2; i++ {
		job, err := consumer.Reserve(2 * time.Second)
		if err != nil {
			t.Fatalf("reserve %d: %v\n", i, err)
		}
		seen[string(job.Body)] = job
		if err := consumer.Delete(job.ID); err != nil {
			t.Fatalf("delete %d: %v\n", job.ID, err)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("reserved %v, expected one and two\n", seen)
	}
	if released := seen[string(first.Body)]; released.Releases != 1 {
		t.Fatalf("released job releases = %d, expected 1\n", released.Releases)
	}

	if _, err := consumer.Reserve(200 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("reserve on empty channel = %v, expected ErrTimeout\n", err)
	}
	if err := consumer.Delete(first.ID); err == nil {
		t.Fatalf("delete of deleted job succeeded\n")
	}
}

// testRedelivery checks a job comes back when its reservation times out
func testRedelivery(t *testing.T, d Dialer, ttr time.Duration) {
	producer := mustDial(t, d)
	producer.Use("ttr")
	id, err := producer.Put([]byte("crash"))
	if err != nil {
		t.Fatalf("put: %v\n", err)
	}
	crashed := mustDial(t, d)
	crashed.Watch("ttr")
	job, err := crashed.Reserve(time.Second)
	if err != nil || job.ID != id {
		t.Fatalf("reserve = %+v %v, expected job %d\n", job, err, id)
	}
	crashed.Close()

	other := mustDial(t, d)
	other.Watch("ttr")
	if _, err := other.Reserve(ttr / 4); !errors.Is(err, ErrTimeout) {
		t.Fatalf("job ready again before ttr: %v\n", err)
	}
	again, err := other.Reserve(ttr * 4)
	if err != nil {
		t.Fatalf("reserve after ttr: %v\n", err)
	}
	if again.ID != id || string(again.Body) != "crash" {
		t.Fatalf("redelivered = %+v, expected job %d\n", again, id)
	}
	if err := other.Delete(again.ID); err != nil {
		t.Fatalf("delete: %v\n", err)
	}
}

func testBury(t *testing.T, d Dialer) {
	conn := mustDial(t, d)
	conn.Use("bury")
	conn.Watch("bury")
	if _, err := conn.Put([]byte("poison")); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	job, err := conn.Reserve(time.Second)
	if err != nil {
		t.Fatalf("reserve: %v\n", err)
	}
	if err := conn.Bury(job); err != nil {
		t.Fatalf("bury: %v\n", err)
	}
	if _, err := conn.Reserve(100 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("buried job reserved again: %v\n", err)
	}
}

func TestMemoryConformance(t *testing.T) {
	m := NewMemoryServer(time.Minute)
	defer m.Close()
	testConformance(t, m)
	if stats := m.Stats(); stats.Total() != 0 {
		t.Fatalf("stats = %+v, expected empty\n", stats)
	}
}

func TestMemoryRedelivery(t *testing.T) {
	ttr := 200 * time.Millisecond
	m := NewMemoryServer(ttr)
	defer m.Close()
	testRedelivery(t, m, ttr)
}

func TestMemoryBury(t *testing.T) {
	m := NewMemoryServer(time.Minute)
	defer m.Close()
	testBury(t, m)
	if stats := m.Stats(); stats.Buried != 1 || stats.Ready != 0 {
		t.Fatalf("stats = %+v, expected one buried\n", stats)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemoryServer(time.Minute)
	m.Close()
	if _, err := m.Dial(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("dial after close = %v, expected ErrClosed\n", err)
	}
}

func newTestSqlite(t *testing.T, ttr time.Duration) *SqliteDialer {
	d, err := NewSqliteDialer(filepath.Join(t.TempDir(), "jobs.db"), ttr)
	if err != nil {
		t.Fatalf("NewSqliteDialer: %v\n", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSqliteConformance(t *testing.T) {
	testConformance(t, newTestSqlite(t, time.Minute))
}

func TestSqliteRedelivery(t *testing.T) {
	ttr := 300 * time.Millisecond
	testRedelivery(t, newTestSqlite(t, ttr), ttr)
}

func TestSqliteBury(t *testing.T) {
	d := newTestSqlite(t, time.Minute)
	testBury(t, d)
	stats, err := d.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v\n", err)
	}
	if stats.Buried != 1 || stats.Ready != 0 {
		t.Fatalf("stats = %+v, expected one buried\n", stats)
	}
}

func TestSqliteDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	d, err := NewSqliteDialer(path, time.Minute)
	if err != nil {
		t.Fatalf("NewSqliteDialer: %v\n", err)
	}
	conn := mustDial(t, d)
	conn.Use("alprd")
	conn.Put([]byte("kept"))
	d.Close()

	d, err = NewSqliteDialer(path, time.Minute)
	if err != nil {
		t.Fatalf("reopen: %v\n", err)
	}
	defer d.Close()
	conn = mustDial(t, d)
	conn.Watch("alprd")
	job, err := conn.Reserve(time.Second)
	if err != nil || string(job.Body) != "kept" {
		t.Fatalf("reserve after reopen = %+v %v\n", job, err)
	}
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(Config{Kind: "memory"})
	if err != nil {
		t.Fatalf("memory dialer: %v\n", err)
	}
	d.Close()
	if _, err := NewDialer(Config{Kind: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown broker accepted\n")
	}
	d, err = NewDialer(Config{})
	if err != nil {
		t.Fatalf("default dialer: %v\n", err)
	}
	if _, ok := d.(*BeanstalkDialer); !ok {
		t.Fatalf("default dialer = %T, expected beanstalk\n", d)
	}
}
