package vim

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		var s string
		ok, err := kv.Get(ctx, "nope", &s)
		if err != nil || ok {
			t.Errorf("Get = %v, %v", ok, err)
		}
	})

	t.Run("chat state", func(t *testing.T) {
		in := ChatState{
			LastTime:    map[string]int64{"u2": 1700000000000},
			LastMessage: map[string]string{"u2": "hello"},
			UnreadIDs:   map[string][]string{"g1": {"m1", "m2"}},
		}
		if err := kv.Put(ctx, keyChatState, in); err != nil {
			t.Fatal(err)
		}
		var out ChatState
		ok, err := kv.Get(ctx, keyChatState, &out)
		if err != nil || !ok {
			t.Fatalf("Get = %v, %v", ok, err)
		}
		if out.LastTime["u2"] != 1700000000000 || out.LastMessage["u2"] != "hello" {
			t.Errorf("got %+v", out)
		}
		if !slices.Equal(out.UnreadIDs["g1"], []string{"m1", "m2"}) {
			t.Errorf("unread = %v", out.UnreadIDs)
		}
	})

	t.Run("overwrite and delete", func(t *testing.T) {
		if err := kv.Put(ctx, keyToken, "a"); err != nil {
			t.Fatal(err)
		}
		if err := kv.Put(ctx, keyToken, "b"); err != nil {
			t.Fatal(err)
		}
		var tok string
		if ok, _ := kv.Get(ctx, keyToken, &tok); !ok || tok != "b" {
			t.Errorf("token = %q", tok)
		}
		if err := kv.Delete(ctx, keyToken); err != nil {
			t.Fatal(err)
		}
		if ok, _ := kv.Get(ctx, keyToken, &tok); ok {
			t.Error("token survived Delete")
		}
		if err := kv.Delete(ctx, keyToken); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("user", func(t *testing.T) {
		if err := kv.Put(ctx, keyUser, User{ID: "me", Name: "Me"}); err != nil {
			t.Fatal(err)
		}
		var u User
		if ok, err := kv.Get(ctx, keyUser, &u); !ok || err != nil || u.ID != "me" {
			t.Errorf("user = %+v, %v, %v", u, ok, err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		if err := kv.Put(ctx, keyHost, "example.com"); err != nil {
			t.Fatal(err)
		}
		var n int
		if _, err := kv.Get(ctx, keyHost, &n); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testKV(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vim.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	testKV(t, s)

	if err := s.Put(ctx, keyHost, "im.example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	t.Run("survives reopen", func(t *testing.T) {
		s, err := OpenSQLiteStore(ctx, path)
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		var host string
		if ok, err := s.Get(ctx, keyHost, &host); !ok || err != nil || host != "im.example.com" {
			t.Errorf("host = %q, %v, %v", host, ok, err)
		}
	})
}
