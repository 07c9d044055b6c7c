// Package orset implements the Observed-Remove Set CRDT of spec §3/§4.E:
// add-wins membership, where a remove only tombstones the add-tags it has
// actually observed, letting a concurrent add survive.
//
// Grounded on Polqt-golang-journey's ORSet stub (elements as value -> set of
// add-tags, Add/Remove/Contains/Values/Merge shape) completed here with
// spec's explicit tombstone-set semantics, since the teacher's stub deletes
// the whole value on Remove rather than tracking per-tag tombstones — the
// one correction spec §4.E requires for true add-wins behavior.
package orset

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/synckit/core/internal/clock"
)

// Tag uniquely identifies one add() call.
type Tag string

func newTag() Tag {
	return Tag(uuid.NewString())
}

// OpKind distinguishes an add from a remove.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
)

// Op is the operation emitted by Add/Remove and consumed by ApplyRemote.
// Remove carries every tag the issuing replica had observed for Element at
// the time of the call (spec §4.E: "a tombstone set containing all
// currently-observed tags").
type Op struct {
	Kind    OpKind
	Element string
	Tag     Tag   // OpAdd only
	Tags    []Tag // OpRemove only
}

// Subscriber fires after any accepted change.
type Subscriber func(values []string)

// Set is an OR-Set.
type Set struct {
	mu         sync.RWMutex
	replica    clock.ReplicaID
	adds       map[string]map[Tag]bool
	tombstones map[string]map[Tag]bool

	subs   map[int]Subscriber
	nextID int
}

// New creates an empty Set owned by replica.
func New(replica clock.ReplicaID) *Set {
	return &Set{
		replica:    replica,
		adds:       make(map[string]map[Tag]bool),
		tombstones: make(map[string]map[Tag]bool),
		subs:       make(map[int]Subscriber),
	}
}

// Add adds element with a fresh tag.
func (s *Set) Add(element string) Op {
	tag := newTag()
	s.mu.Lock()
	if s.adds[element] == nil {
		s.adds[element] = make(map[Tag]bool)
	}
	s.adds[element][tag] = true
	values := s.valuesLocked()
	s.mu.Unlock()
	s.notify(values)
	return Op{Kind: OpAdd, Element: element, Tag: tag}
}

// Remove tombstones every tag currently observed for element. A concurrent
// Add on another replica, whose tag this replica hasn't observed yet,
// survives the remove (add-wins).
func (s *Set) Remove(element string) Op {
	s.mu.Lock()
	tags := make([]Tag, 0, len(s.adds[element]))
	for tag := range s.adds[element] {
		tags = append(tags, tag)
	}
	s.tombstone(element, tags)
	values := s.valuesLocked()
	s.mu.Unlock()
	s.notify(values)
	return Op{Kind: OpRemove, Element: element, Tags: tags}
}

func (s *Set) tombstone(element string, tags []Tag) {
	if len(tags) == 0 {
		return
	}
	if s.tombstones[element] == nil {
		s.tombstones[element] = make(map[Tag]bool)
	}
	for _, tag := range tags {
		s.tombstones[element][tag] = true
	}
}

// Has reports whether element currently has at least one live (non-
// tombstoned) add-tag.
func (s *Set) Has(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasLocked(element)
}

func (s *Set) hasLocked(element string) bool {
	for tag := range s.adds[element] {
		if !s.tombstones[element][tag] {
			return true
		}
	}
	return false
}

// Values returns every element with at least one live tag, sorted.
func (s *Set) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valuesLocked()
}

func (s *Set) valuesLocked() []string {
	var out []string
	for element := range s.adds {
		if s.hasLocked(element) {
			out = append(out, element)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyRemote applies a single remote Op. Both add and remove are
// idempotent and commutative: adding an already-known tag, or tombstoning
// an already-tombstoned tag, is a no-op.
func (s *Set) ApplyRemote(op Op) {
	s.mu.Lock()
	switch op.Kind {
	case OpAdd:
		if s.adds[op.Element] == nil {
			s.adds[op.Element] = make(map[Tag]bool)
		}
		s.adds[op.Element][op.Tag] = true
	case OpRemove:
		s.tombstone(op.Element, op.Tags)
	}
	values := s.valuesLocked()
	s.mu.Unlock()
	s.notify(values)
}

// Merge unions every element's add-tags and tombstones from other into s.
func (s *Set) Merge(other *Set) {
	other.mu.RLock()
	addsCopy := make(map[string][]Tag, len(other.adds))
	for el, tags := range other.adds {
		for tag := range tags {
			addsCopy[el] = append(addsCopy[el], tag)
		}
	}
	tombCopy := make(map[string][]Tag, len(other.tombstones))
	for el, tags := range other.tombstones {
		for tag := range tags {
			tombCopy[el] = append(tombCopy[el], tag)
		}
	}
	other.mu.RUnlock()

	s.mu.Lock()
	for el, tags := range addsCopy {
		if s.adds[el] == nil {
			s.adds[el] = make(map[Tag]bool)
		}
		for _, tag := range tags {
			s.adds[el][tag] = true
		}
	}
	for el, tags := range tombCopy {
		s.tombstone(el, tags)
	}
	values := s.valuesLocked()
	s.mu.Unlock()
	s.notify(values)
}

// Subscribe registers cb to fire with the current values after any change.
// The returned func unsubscribes.
func (s *Set) Subscribe(cb Subscriber) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Set) notify(values []string) {
	s.mu.RLock()
	cbs := make([]Subscriber, 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() { _ = recover() }()
			cb(values)
		}()
	}
}
