package server

// ThreadKey identifies the conversation between two identities. A and B are
// held in lexical order so both directions map to the same thread.
type ThreadKey struct {
	A, B string
}

func (k ThreadKey) String() string {
	return k.A + "_" + k.B
}

// ThreadKeyFor returns the key shared by a and b regardless of argument order.
func ThreadKeyFor(a, b string) ThreadKey {
	if b < a {
		a, b = b, a
	}
	return ThreadKey{A: a, B: b}
}

// ThreadStore keeps the most recent messages exchanged by each pair of
// identities. Threads are created on first use and never removed. Not safe
// for concurrent use; the Hub serializes access.
type ThreadStore struct {
	limit   int
	threads map[ThreadKey][]Message
}

// NewThreadStore returns a store retaining at most limit messages per thread.
func NewThreadStore(limit int) *ThreadStore {
	if limit <= 0 {
		limit = defaultThreadHistoryLimit
	}
	return &ThreadStore{
		limit:   limit,
		threads: make(map[ThreadKey][]Message),
	}
}

// Append records msg in the thread for a and b, dropping the oldest entries
// once the thread exceeds its limit.
func (s *ThreadStore) Append(a, b string, msg Message) {
	key := ThreadKeyFor(a, b)
	thread := append(s.threads[key], msg)
	if over := len(thread) - s.limit; over > 0 {
		// copy into a fresh slice so the dropped prefix can be collected
		thread = append([]Message(nil), thread[over:]...)
	}
	s.threads[key] = thread
}

// Get returns a copy of the thread for a and b in arrival order.
func (s *ThreadStore) Get(a, b string) []Message {
	thread := s.threads[ThreadKeyFor(a, b)]
	return append([]Message(nil), thread...)
}

// Len returns the number of threads.
func (s *ThreadStore) Len() int {
	return len(s.threads)
}
