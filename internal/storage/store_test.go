package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore(t *testing.T) {
	for name, newStore := range map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": newSQLite,
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("new store is empty", func(t *testing.T) {
				store := newStore(t)

				keys, err := store.List("")
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(keys) != 0 {
					t.Errorf("Expected empty store, got %d keys", len(keys))
				}

				_, err = store.Get("nonexistent")
				if !errors.Is(err, ErrKeyNotFound) {
					t.Errorf("Expected ErrKeyNotFound, got %v", err)
				}
			})

			t.Run("put overwrite and get", func(t *testing.T) {
				store := newStore(t)

				if err := store.Put("key1", []byte("value1")); err != nil {
					t.Fatalf("Failed to put value: %v", err)
				}
				if err := store.Put("key1", []byte("value2")); err != nil {
					t.Fatalf("Failed to overwrite value: %v", err)
				}
				value, err := store.Get("key1")
				if err != nil {
					t.Fatalf("Failed to get value: %v", err)
				}
				if !bytes.Equal(value, []byte("value2")) {
					t.Errorf("Expected 'value2', got %s", string(value))
				}
			})

			t.Run("delete values", func(t *testing.T) {
				store := newStore(t)

				_ = store.Put("key1", []byte("value1"))
				if err := store.Delete("key1"); err != nil {
					t.Fatalf("Failed to delete: %v", err)
				}
				if _, err := store.Get("key1"); !errors.Is(err, ErrKeyNotFound) {
					t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
				}
				// Deleting again is not an error.
				if err := store.Delete("key1"); err != nil {
					t.Errorf("Delete of missing key error = %v", err)
				}
			})

			t.Run("list by prefix", func(t *testing.T) {
				store := newStore(t)

				for _, k := range []string{"b/2", "a/1", "b/1", "c"} {
					_ = store.Put(k, []byte(k))
				}
				keys, err := store.List("b/")
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if fmt.Sprint(keys) != "[b/1 b/2]" {
					t.Errorf("List(b/) = %v, want [b/1 b/2]", keys)
				}
			})

			t.Run("empty and nil values", func(t *testing.T) {
				store := newStore(t)

				_ = store.Put("empty", []byte{})
				_ = store.Put("nil", nil)
				for _, k := range []string{"empty", "nil"} {
					value, err := store.Get(k)
					if err != nil {
						t.Fatalf("Get(%q) error = %v", k, err)
					}
					if len(value) != 0 {
						t.Errorf("Get(%q) = %v, want empty", k, value)
					}
				}
			})

			t.Run("stats tracking", func(t *testing.T) {
				store := newStore(t)

				_ = store.Put("a", []byte("123"))
				_ = store.Put("b", []byte("4567"))
				_ = store.Put("a", []byte("12"))
				stats, err := store.Stats()
				if err != nil {
					t.Fatalf("Stats() error = %v", err)
				}
				if stats.Keys != 2 || stats.Bytes != 6 {
					t.Errorf("Stats() = %+v, want {Keys:2 Bytes:6}", stats)
				}
			})

			t.Run("results by run", func(t *testing.T) {
				store := newStore(t)

				_ = store.Put(ResultKey("run-a", 0), []byte("zero"))
				_ = store.Put(ResultKey("run-a", 12), []byte("twelve"))
				_ = store.Put(ResultKey("run-b", 0), []byte("other"))

				results, err := Results(store, "run-a")
				if err != nil {
					t.Fatalf("Results() error = %v", err)
				}
				if len(results) != 2 || string(results[0]) != "zero" || string(results[12]) != "twelve" {
					t.Errorf("Results(run-a) = %v", results)
				}

				if err := DeleteRun(store, "run-a"); err != nil {
					t.Fatalf("DeleteRun() error = %v", err)
				}
				results, _ = Results(store, "run-a")
				if len(results) != 0 {
					t.Errorf("Results after DeleteRun = %v, want none", results)
				}
				other, _ := Results(store, "run-b")
				if len(other) != 1 {
					t.Errorf("DeleteRun touched another run: %v", other)
				}
			})

			t.Run("concurrent writes", func(t *testing.T) {
				store := newStore(t)

				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						if err := store.Put(ResultKey("run", i), []byte{byte(i)}); err != nil {
							t.Errorf("Put(%d) error = %v", i, err)
						}
					}(i)
				}
				wg.Wait()

				results, err := Results(store, "run")
				if err != nil {
					t.Fatalf("Results() error = %v", err)
				}
				if len(results) != 20 {
					t.Errorf("Expected 20 results, got %d", len(results))
				}
			})
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	value := []byte("abc")
	_ = store.Put("k", value)
	value[0] = 'x'

	got, _ := store.Get("k")
	if string(got) != "abc" {
		t.Errorf("stored value changed to %q", got)
	}
	got[0] = 'y'
	again, _ := store.Get("k")
	if string(again) != "abc" {
		t.Errorf("returned value aliases the store: %q", again)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	_ = store.Put("k", []byte("v"))
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	v, err := reopened.Get("k")
	if err != nil || string(v) != "v" {
		t.Errorf("Get after reopen = %q, %v", v, err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{"memory", false},
		{"sqlite", false},
		{"postgres", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			store, err := Open(tt.driver, filepath.Join(t.TempDir(), "r.db"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}

func TestStoreInterface(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
	var _ Store = (*SQLiteStore)(nil)
}
