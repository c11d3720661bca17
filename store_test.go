package authflow

import (
	"errors"
	"testing"
)

func TestStoreSetAuthenticated(t *testing.T) {
	store := NewStore()

	var got []State
	cancel := store.Subscribe(func(st State) {
		got = append(got, st)
	})
	defer cancel()

	tokens := &Tokens{AccessToken: "at", RefreshToken: "rt"}
	user := &AuthUser{ID: "u1", Username: "demo"}
	store.SetAuthenticated(tokens, user)

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	st := store.State()
	if !st.Authenticated {
		t.Error("expected Authenticated = true")
	}
	if st.Tokens == nil || st.Tokens.AccessToken != "at" {
		t.Errorf("Tokens = %+v, want access token 'at'", st.Tokens)
	}
	if st.User == nil || st.User.ID != "u1" {
		t.Errorf("User = %+v, want id 'u1'", st.User)
	}
}

func TestStoreSnapshotsAreCopies(t *testing.T) {
	store := NewStore()
	store.SetAuthenticated(&Tokens{AccessToken: "at"}, &AuthUser{ID: "u1"})

	st := store.State()
	st.Tokens.AccessToken = "mutated"
	st.User.ID = "mutated"

	again := store.State()
	if again.Tokens.AccessToken != "at" {
		t.Errorf("store state mutated through snapshot: %q", again.Tokens.AccessToken)
	}
	if again.User.ID != "u1" {
		t.Errorf("store user mutated through snapshot: %q", again.User.ID)
	}
}

func TestStoreUnsubscribe(t *testing.T) {
	store := NewStore()

	calls := 0
	cancel := store.Subscribe(func(State) { calls++ })
	store.SetError(errors.New("boom"))
	cancel()
	cancel() // second cancel is a no-op
	store.SetError(errors.New("boom again"))

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestStoreReset(t *testing.T) {
	store := NewStore()
	store.SetAuthenticated(&Tokens{AccessToken: "at"}, nil)
	store.Reset()

	st := store.State()
	if st.Authenticated || st.Tokens != nil || st.User != nil || st.Err != nil {
		t.Errorf("expected zero state after reset, got %+v", st)
	}
}

func TestStoreSetErrorKeepsAuth(t *testing.T) {
	store := NewStore()
	store.SetAuthenticated(&Tokens{AccessToken: "at"}, nil)
	store.SetError(errors.New("later failure"))

	st := store.State()
	if !st.Authenticated {
		t.Error("SetError should not clear Authenticated")
	}
	if st.Err == nil {
		t.Error("expected Err to be set")
	}
}
