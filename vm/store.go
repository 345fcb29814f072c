package vm

import (
	"sync"

	"github.com/delimvm/delim/values"
)

// EnvBinding pairs an environment key with a value for WithLocal scopes.
type EnvBinding struct {
	Key   *EnvKey
	Value *values.Value
}

type envBinding struct {
	key   *EnvKey
	value *values.Value
}

// envMap is a hash-bucketed map keyed by EnvKey, preserving host
// hash/equality semantics.
type envMap struct {
	buckets map[uint64][]envBinding
	size    int
}

func newEnvMap() *envMap {
	return &envMap{buckets: make(map[uint64][]envBinding)}
}

func (m *envMap) get(key *EnvKey) (*values.Value, bool) {
	for _, b := range m.buckets[key.hash] {
		if b.key.Equal(key) {
			return b.value, true
		}
	}
	return nil, false
}

// put stores the binding and returns the overwritten value, if any.
func (m *envMap) put(key *EnvKey, v *values.Value) (*values.Value, bool) {
	bucket := m.buckets[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) {
			old := b.value
			bucket[i].value = v
			return old, true
		}
	}
	m.buckets[key.hash] = append(bucket, envBinding{key: key, value: v})
	m.size++
	return nil, false
}

func (m *envMap) remove(key *EnvKey) bool {
	bucket := m.buckets[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) {
			m.buckets[key.hash] = append(bucket[:i:i], bucket[i+1:]...)
			if len(m.buckets[key.hash]) == 0 {
				delete(m.buckets, key.hash)
			}
			m.size--
			return true
		}
	}
	return false
}

func (m *envMap) len() int {
	return m.size
}

func (m *envMap) iter(f func(*EnvKey, *values.Value) bool) {
	for _, bucket := range m.buckets {
		for _, b := range bucket {
			if !f(b.key, b.value) {
				return
			}
		}
	}
}

type lazyCacheEntry struct {
	sourceID uint64
	value    *values.Value
}

type lazyInflightEntry struct {
	sourceID  uint64
	promiseID PromiseID
}

// LocalEnvSnapshot records overwritten entries and newly-inserted keys for
// a WithLocal scope, so the environment can be restored exactly.
type LocalEnvSnapshot struct {
	previous []envBinding
	inserted []*EnvKey
}

// Store is the three-map VM state: keyed state, environment, and log, plus
// the lazy-result cache, in-flight, and active sets used for memoization.
//
// The lazy maps may be touched from a non-owning thread; they are guarded
// by a mutex and fail with store-poisoned once a holder has panicked
// mid-update.
type Store struct {
	state map[string]*values.Value
	env   *envMap
	log   []*values.Value

	mu           sync.Mutex
	poisoned     bool
	lazyCache    map[uint64][]lazyCacheSlot
	lazyInflight map[uint64][]lazyInflightSlot
	lazyActive   map[uint64][]lazyActiveSlot
}

type lazyCacheSlot struct {
	key   *EnvKey
	entry lazyCacheEntry
}

type lazyInflightSlot struct {
	key   *EnvKey
	entry lazyInflightEntry
}

type lazyActiveSlot struct {
	key      *EnvKey
	sourceID uint64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		state:        make(map[string]*values.Value),
		env:          newEnvMap(),
		lazyCache:    make(map[uint64][]lazyCacheSlot),
		lazyInflight: make(map[uint64][]lazyInflightSlot),
		lazyActive:   make(map[uint64][]lazyActiveSlot),
	}
}

// Get reads a state entry.
func (s *Store) Get(key string) (*values.Value, bool) {
	v, ok := s.state[key]
	return v, ok
}

// Put writes a state entry.
func (s *Store) Put(key string, v *values.Value) {
	s.state[key] = v
}

// Ask reads an environment entry.
func (s *Store) Ask(key *EnvKey) (*values.Value, bool) {
	return s.env.get(key)
}

// PutEnv writes an environment entry directly; initial environments are
// seeded this way before a run.
func (s *Store) PutEnv(key *EnvKey, v *values.Value) {
	s.env.put(key, v)
}

// Tell appends a message to the log.
func (s *Store) Tell(message *values.Value) {
	s.log = append(s.log, message)
}

// Logs returns the accumulated log.
func (s *Store) Logs() []*values.Value {
	return s.log
}

// ClearLogs drains and returns the log.
func (s *Store) ClearLogs() []*values.Value {
	out := s.log
	s.log = nil
	return out
}

// Modify applies f to the current value of key and stores the result,
// returning the old value. Missing keys are treated as null. A panic inside
// f poisons the store.
func (s *Store) Modify(key string, f func(*values.Value) *values.Value) (*values.Value, error) {
	if s.isPoisoned() {
		return nil, NewVMError(ErrStorePoisoned, "state map poisoned")
	}
	old, ok := s.state[key]
	if !ok {
		old = values.NewNull()
	}
	var newVal *values.Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.poison()
				panic(r)
			}
		}()
		newVal = f(old)
	}()
	s.state[key] = newVal
	return old, nil
}

// StateSnapshot copies the state map for inspection.
func (s *Store) StateSnapshot() map[string]*values.Value {
	out := make(map[string]*values.Value, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// EnvLen returns the number of environment bindings.
func (s *Store) EnvLen() int {
	return s.env.len()
}

// EnvSnapshot copies the environment for comparison in tests.
func (s *Store) EnvSnapshot() map[*EnvKey]*values.Value {
	out := make(map[*EnvKey]*values.Value, s.env.len())
	s.env.iter(func(k *EnvKey, v *values.Value) bool {
		out[k] = v
		return true
	})
	return out
}

// PushLocalBindings installs bindings, snapshotting overwritten entries and
// recording newly-inserted keys for later restoration.
func (s *Store) PushLocalBindings(bindings []EnvBinding) *LocalEnvSnapshot {
	snap := &LocalEnvSnapshot{}
	for _, b := range bindings {
		if old, overwrote := s.env.put(b.Key, b.Value); overwrote {
			snap.previous = append(snap.previous, envBinding{key: b.Key, value: old})
		} else {
			snap.inserted = append(snap.inserted, b.Key)
		}
	}
	return snap
}

// PopLocalBindings restores overwritten entries and removes keys inserted
// by the matching PushLocalBindings.
func (s *Store) PopLocalBindings(snap *LocalEnvSnapshot) {
	for _, b := range snap.previous {
		s.env.put(b.key, b.value)
	}
	for _, key := range snap.inserted {
		s.env.remove(key)
	}
}

// WithLocal runs f under the given environment bindings, restoring the
// environment exactly afterwards. This gives dynamic scoping for reads
// across nested handlers.
func (s *Store) WithLocal(bindings []EnvBinding, f func(*Store) error) error {
	snap := s.PushLocalBindings(bindings)
	defer s.PopLocalBindings(snap)
	return f(s)
}

func (s *Store) poison() {
	s.mu.Lock()
	s.poisoned = true
	s.mu.Unlock()
}

func (s *Store) isPoisoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}

func (s *Store) lazyGuard() *VMError {
	if s.poisoned {
		return NewVMError(ErrStorePoisoned, "lazy maps poisoned")
	}
	return nil
}

// CacheGet returns the cached value for key only if the stored source id
// matches; a mismatched tag means the cache is stale and treated as empty.
func (s *Store) CacheGet(key *EnvKey, sourceID uint64) (*values.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return nil, false, err
	}
	for _, b := range s.lazyCache[key.hash] {
		if b.key.Equal(key) {
			if b.entry.sourceID == sourceID {
				return b.entry.value, true, nil
			}
			return nil, false, nil
		}
	}
	return nil, false, nil
}

// CachePut overwrites the cache entry unconditionally.
func (s *Store) CachePut(key *EnvKey, sourceID uint64, v *values.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return err
	}
	bucket := s.lazyCache[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) {
			bucket[i].entry = lazyCacheEntry{sourceID: sourceID, value: v}
			return nil
		}
	}
	s.lazyCache[key.hash] = append(bucket, lazyCacheSlot{key, lazyCacheEntry{sourceID: sourceID, value: v}})
	return nil
}

// InflightGet returns the in-flight promise for key when the source id
// matches.
func (s *Store) InflightGet(key *EnvKey, sourceID uint64) (PromiseID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return 0, false, err
	}
	for _, b := range s.lazyInflight[key.hash] {
		if b.key.Equal(key) {
			if b.entry.sourceID == sourceID {
				return b.entry.promiseID, true, nil
			}
			return 0, false, nil
		}
	}
	return 0, false, nil
}

// InflightPut records an in-flight promise for key.
func (s *Store) InflightPut(key *EnvKey, sourceID uint64, promiseID PromiseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return err
	}
	bucket := s.lazyInflight[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) {
			bucket[i].entry = lazyInflightEntry{sourceID: sourceID, promiseID: promiseID}
			return nil
		}
	}
	s.lazyInflight[key.hash] = append(bucket, lazyInflightSlot{key, lazyInflightEntry{sourceID: sourceID, promiseID: promiseID}})
	return nil
}

// InflightRemove removes the in-flight entry, refusing if either tag has
// since changed.
func (s *Store) InflightRemove(key *EnvKey, sourceID uint64, promiseID PromiseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return err
	}
	bucket := s.lazyInflight[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) {
			if b.entry.sourceID != sourceID || b.entry.promiseID != promiseID {
				return nil
			}
			s.lazyInflight[key.hash] = append(bucket[:i:i], bucket[i+1:]...)
			if len(s.lazyInflight[key.hash]) == 0 {
				delete(s.lazyInflight, key.hash)
			}
			return nil
		}
	}
	return nil
}

// ActiveContains reports whether (key, sourceID) is under evaluation.
func (s *Store) ActiveContains(key *EnvKey, sourceID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return false, err
	}
	for _, b := range s.lazyActive[key.hash] {
		if b.key.Equal(key) && b.sourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

// ActiveInsert marks (key, sourceID) as under evaluation, preventing
// recursive re-entry.
func (s *Store) ActiveInsert(key *EnvKey, sourceID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return err
	}
	for _, b := range s.lazyActive[key.hash] {
		if b.key.Equal(key) && b.sourceID == sourceID {
			return nil
		}
	}
	s.lazyActive[key.hash] = append(s.lazyActive[key.hash], lazyActiveSlot{key, sourceID})
	return nil
}

// ActiveRemove clears the evaluation mark for (key, sourceID).
func (s *Store) ActiveRemove(key *EnvKey, sourceID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lazyGuard(); err != nil {
		return err
	}
	bucket := s.lazyActive[key.hash]
	for i, b := range bucket {
		if b.key.Equal(key) && b.sourceID == sourceID {
			s.lazyActive[key.hash] = append(bucket[:i:i], bucket[i+1:]...)
			if len(s.lazyActive[key.hash]) == 0 {
				delete(s.lazyActive, key.hash)
			}
			return nil
		}
	}
	return nil
}
