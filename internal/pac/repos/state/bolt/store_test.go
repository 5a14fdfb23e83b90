package bolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

func tempDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "state.db")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestBoltStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDB(t)
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(); _ = os.Remove(dbPath) })

	var hosts []string
	if ok, err := st.Get(ctx, "ignoredHosts", &hosts); err != nil || ok {
		t.Fatalf("expected empty miss, got ok=%v err=%v", ok, err)
	}

	if err := st.Set(ctx, "ignoredHosts", []string{"a.com", "b.com"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := st.Get(ctx, "ignoredHosts", &hosts)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(hosts) != 2 || hosts[0] != "a.com" || hosts[1] != "b.com" {
		t.Fatalf("unexpected hosts: %v", hosts)
	}

	if err := st.Delete(ctx, "ignoredHosts"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, err := st.Get(ctx, "ignoredHosts", &hosts); err != nil || ok {
		t.Fatalf("expected miss after delete, got ok=%v err=%v", ok, err)
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDB(t)

	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Set(ctx, "useProxy", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	got, err := state.GetBool(ctx, st, "useProxy", true)
	if err != nil {
		t.Fatalf("GetBool: %v", err)
	}
	if got {
		t.Fatalf("expected persisted false, got true")
	}
	if bs, ok := st.(*boltStore); !ok || bs.UpdatedUnix() == 0 {
		t.Fatalf("expected updated timestamp to be recorded")
	}
}

func TestBoltStore_CancelledContext(t *testing.T) {
	dbPath := tempDB(t)
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := st.Set(ctx, "k", 1); err == nil {
		t.Fatalf("expected context error")
	}
	var v int
	if _, err := st.Get(ctx, "k", &v); err == nil {
		t.Fatalf("expected context error")
	}
	if err := st.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestBoltStore_DecodeError(t *testing.T) {
	ctx := context.Background()
	dbPath := tempDB(t)
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Set(ctx, "useProxy", "yes"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var b bool
	if _, err := st.Get(ctx, "useProxy", &b); err == nil {
		t.Fatalf("expected decode error")
	}
}

type fakeBucketCreator struct{ errs map[string]error }

func (f fakeBucketCreator) CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error) {
	if err := f.errs[string(name)]; err != nil {
		return nil, err
	}
	return nil, nil
}

func TestNew_EnsureBucketsErrors(t *testing.T) {
	cases := []struct {
		name string
		fail string
	}{
		{name: "state bucket fails", fail: string(bucketState)},
		{name: "meta bucket fails", fail: string(bucketMeta)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := ensureBucketsFn
			ensureBucketsFn = func(tx bucketCreator) error {
				return ensureBuckets(fakeBucketCreator{errs: map[string]error{tc.fail: assertErr{}}})
			}
			defer func() { ensureBucketsFn = old }()

			dbPath := tempDB(t)
			st, err := New(dbPath)
			if err == nil || st != nil {
				t.Fatalf("expected error from New when %s fails", tc.fail)
			}
		})
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "dir", "state.db")); err == nil {
		t.Fatalf("expected error for unreachable path")
	}
}
