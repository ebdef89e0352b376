// Package testkit provides in-memory stand-ins for the Postgres store and the
// event notifier, for service tests.
package testkit

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
)

// Store mimics the SQL in internal/db row for row. Transactions are
// serialised behind one mutex and rolled back by restoring a snapshot.
type Store struct {
	mu       sync.Mutex
	data     *state
	failures map[string][]error
}

func NewStore() *Store {
	return &Store{data: newState(), failures: map[string][]error{}}
}

// FailNext makes the next call to method return err. Calls queue up.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

func (s *Store) Querier() db.Querier {
	return &querier{store: s}
}

func (s *Store) WithTx(ctx context.Context, fn func(db.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(&querier{store: s, inTx: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Snapshot accessors for assertions.

func (s *Store) WaitingEntries() []db.WaitingRoomEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.WaitingRoomEntry, 0, len(s.data.waiting))
	for _, e := range s.data.waiting {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return s.data.order[out[i].ID] < s.data.order[out[j].ID] })
	return out
}

func (s *Store) CollabSessions() []db.CollaborativeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.CollaborativeSession, 0, len(s.data.collabs))
	for _, c := range s.data.collabs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return s.data.order[out[i].ID] < s.data.order[out[j].ID] })
	return out
}

func (s *Store) Conversations() []db.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Conversation, 0, len(s.data.conversations))
	for _, c := range s.data.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return s.data.order[out[i].ID] < s.data.order[out[j].ID] })
	return out
}

func (s *Store) Instances(sessionID pgtype.UUID) []db.SessionInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.SessionInstance
	for _, i := range s.data.instances {
		if i.SessionID == sessionID {
			out = append(out, i)
		}
	}
	return out
}

type state struct {
	seq           int64
	order         map[pgtype.UUID]int64
	sessions      map[pgtype.UUID]db.ClassSession
	instances     []db.SessionInstance
	topics        map[pgtype.UUID]db.Topic
	conversations map[pgtype.UUID]db.Conversation
	messages      []db.ConversationMessage
	collabs       map[pgtype.UUID]db.CollaborativeSession
	waiting       map[pgtype.UUID]db.WaitingRoomEntry
	invitations   map[pgtype.UUID]db.CollabInvitation
}

func newState() *state {
	return &state{
		order:         map[pgtype.UUID]int64{},
		sessions:      map[pgtype.UUID]db.ClassSession{},
		topics:        map[pgtype.UUID]db.Topic{},
		conversations: map[pgtype.UUID]db.Conversation{},
		collabs:       map[pgtype.UUID]db.CollaborativeSession{},
		waiting:       map[pgtype.UUID]db.WaitingRoomEntry{},
		invitations:   map[pgtype.UUID]db.CollabInvitation{},
	}
}

// Stored values are never mutated in place, so copying the containers is enough.
func (s *state) clone() *state {
	return &state{
		seq:           s.seq,
		order:         cloneMap(s.order),
		sessions:      cloneMap(s.sessions),
		instances:     append([]db.SessionInstance(nil), s.instances...),
		topics:        cloneMap(s.topics),
		conversations: cloneMap(s.conversations),
		messages:      append([]db.ConversationMessage(nil), s.messages...),
		collabs:       cloneMap(s.collabs),
		waiting:       cloneMap(s.waiting),
		invitations:   cloneMap(s.invitations),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) track(id pgtype.UUID) {
	if _, ok := s.order[id]; ok {
		return
	}
	s.seq++
	s.order[id] = s.seq
}

type querier struct {
	store *Store
	inTx  bool
}

func (q *querier) do(method string, fn func(st *state) error) error {
	if !q.inTx {
		q.store.mu.Lock()
		defer q.store.mu.Unlock()
	}
	if queued := q.store.failures[method]; len(queued) > 0 {
		q.store.failures[method] = queued[1:]
		return queued[0]
	}
	return fn(q.store.data)
}

func before(a, b pgtype.Timestamptz) bool {
	return a.Time.Before(b.Time)
}

func lessByTimeThenID(at, bt pgtype.Timestamptz, aid, bid pgtype.UUID) bool {
	if !at.Time.Equal(bt.Time) {
		return at.Time.Before(bt.Time)
	}
	return bytes.Compare(aid.Bytes[:], bid.Bytes[:]) < 0
}

func copyIDs(ids []pgtype.UUID) []pgtype.UUID {
	return append([]pgtype.UUID(nil), ids...)
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

var errNoRows = pgx.ErrNoRows
