package authflow

import "sync"

// State is one immutable snapshot of the shared authentication state.
// Subscribers always receive a full copy; the store never hands out
// internal references.
type State struct {
	Authenticated bool
	Tokens        *Tokens
	User          *AuthUser
	Err           error
}

// Store is the shared authentication cell. Flow orchestrators write
// terminal results into it; UI components read and subscribe. Updates are
// copy-on-write so a subscriber always observes a consistent snapshot.
type Store struct {
	mu     sync.RWMutex
	state  State
	nextID int
	subs   map[int]func(State)
}

// NewStore creates an empty authentication store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn to be called with a snapshot after every update.
// The returned function removes the subscription; calling it more than
// once is harmless.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetAuthenticated publishes a successful authentication. Tokens and user
// are cloned into the new snapshot.
func (s *Store) SetAuthenticated(tokens *Tokens, user *AuthUser) {
	s.update(func(st *State) {
		st.Authenticated = true
		st.Err = nil
		if tokens != nil {
			t := *tokens
			st.Tokens = &t
		}
		if user != nil {
			u := *user
			st.User = &u
		}
	})
}

// SetError publishes a terminal failure without clearing any previously
// established authentication.
func (s *Store) SetError(err error) {
	s.update(func(st *State) {
		st.Err = err
	})
}

// Reset clears the store back to the unauthenticated state.
func (s *Store) Reset() {
	s.update(func(st *State) {
		*st = State{}
	})
}

// update applies fn to a copy of the current state, installs the copy, and
// notifies subscribers with it. Notification happens outside the lock so a
// subscriber may call back into the store.
func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	next := s.state.clone()
	fn(&next)
	s.state = next
	subs := make([]func(State), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	for _, cb := range subs {
		cb(next.clone())
	}
}

func (st State) clone() State {
	out := st
	if st.Tokens != nil {
		t := *st.Tokens
		out.Tokens = &t
	}
	if st.User != nil {
		u := *st.User
		out.User = &u
	}
	return out
}
