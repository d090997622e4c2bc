package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	ok  bool
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.ok
	return nil
}

// fakeQuerier answers key lookups from an in-memory set of (hash, role) pairs.
type fakeQuerier struct {
	keys  map[[2]string]bool
	err   error
	calls int
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.calls++
	if q.err != nil {
		return fakeRow{err: q.err}
	}
	if !strings.Contains(sql, "relay_keys") {
		return fakeRow{err: errors.New("unexpected query")}
	}
	hash, role := args[0].(string), args[1].(string)
	return fakeRow{ok: q.keys[[2]string{hash, role}]}
}

func TestKeyStore(t *testing.T) {
	db := &fakeQuerier{keys: map[[2]string]bool{
		{HashKey("worker-key"), "worker"}: true,
		{HashKey("client-key"), "client"}: true,
	}}
	store := NewKeyStore(db)

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"worker key", `{"role":"worker","key":"worker-key"}`, true},
		{"client key", `{"role":"client","key":"client-key"}`, true},
		{"key for other role", `{"role":"worker","key":"client-key"}`, false},
		{"unknown key", `{"role":"worker","key":"nope"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Authenticate(context.Background(), json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyStore_MissingKeySkipsQuery(t *testing.T) {
	db := &fakeQuerier{}
	ok, err := NewKeyStore(db).Authenticate(context.Background(), json.RawMessage(`{"role":"worker"}`))
	if err != nil || ok {
		t.Errorf("Authenticate() = %v, %v; want false, nil", ok, err)
	}
	if db.calls != 0 {
		t.Errorf("query issued %d times, want 0", db.calls)
	}
}

func TestKeyStore_QueryError(t *testing.T) {
	db := &fakeQuerier{err: errors.New("connection refused")}
	ok, err := NewKeyStore(db).Authenticate(context.Background(), json.RawMessage(`{"role":"worker","key":"k"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if ok {
		t.Error("expected rejection on error")
	}
}

func TestHashKey(t *testing.T) {
	got := HashKey("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("HashKey(abc) = %s, want %s", got, want)
	}
}
