// Package richtext implements the Peritext-style rich-text CRDT of spec
// §3/§4.D: a set of format spans anchored to stable characters of a
// text.Text, merged on demand rather than maintained incrementally.
//
// Grounded on the same (timestamp, replicaId) tie-break idiom as
// internal/crdt/lww's crdt_resolver.go lineage, applied here to attribute
// spans instead of whole-document fields; the pack has no direct Peritext
// example, so the merge-strategy shape (UNION/LWW/CUSTOM) is this package's
// own generalization of that one recurring conflict-resolution pattern.
package richtext

import (
	"sort"
	"sync"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/text"
	"github.com/synckit/core/internal/errs"
)

// CharacterID identifies an anchor character in the underlying text.Text.
type CharacterID = text.CharacterID

// SpanID uniquely identifies a format span.
type SpanID = clock.OperationID

// AttrValue is any JSON-expressible attribute value (a bool for toggles, a
// string for color/link href, and so on).
type AttrValue = interface{}

// Strategy selects how concurrent writes to one attribute name resolve.
type Strategy int

const (
	// StrategyLWW: later stamp wins; ties broken by the smaller replica id
	// (spec §3: the opposite tie-break direction from document LWW).
	StrategyLWW Strategy = iota
	// StrategyUnion: the attribute is true if any covering Format span sets
	// a truthy value for it, regardless of stamp order; Unformat spans do not
	// clear it.
	StrategyUnion
	// StrategyCustom: resolved by a caller-supplied CustomMergeFunc.
	StrategyCustom
)

// CustomMergeFunc folds two spans that both touch the same attribute name
// and character, returning the merged value. Spans are folded in ascending
// stamp order, so "b" is always the later event.
type CustomMergeFunc func(a, b Span) AttrValue

// Schema declares the merge strategy for each attribute name not covered by
// the default (StrategyLWW).
type Schema struct {
	Strategies map[string]Strategy
	Custom     map[string]CustomMergeFunc
}

func (s Schema) strategyFor(attr string) Strategy {
	if s.Strategies == nil {
		return StrategyLWW
	}
	if strat, ok := s.Strategies[attr]; ok {
		return strat
	}
	return StrategyLWW
}

// Span is a format span, spanning [Start,End] inclusive of those two
// anchor characters.
type Span struct {
	OpID    SpanID
	Start   CharacterID
	End     CharacterID
	Attrs   map[string]AttrValue
	Remove  bool // true for a span created by Unformat
	Stamp   clock.Lamport
	Deleted bool
}

// OpKind distinguishes a new span from a clear-formats tombstone.
type OpKind int

const (
	OpFormat OpKind = iota
	OpClear
)

// Op is the wire-level operation for this CRDT (spec §4.F: one op per
// mutating call, or one per tombstoned span for clear_formats).
type Op struct {
	Kind   OpKind
	Span   Span   // OpFormat only
	Target SpanID // OpClear only
}

// Subscriber fires after any accepted change.
type Subscriber func()

// RichText overlays format spans on a text.Text.
type RichText struct {
	mu     sync.RWMutex
	clock  *clock.Clock
	text   *text.Text
	schema Schema
	spans  map[SpanID]*Span

	pendingClears map[SpanID]bool

	subs   map[int]Subscriber
	nextID int
}

// New creates a RichText overlay on t, owned by replica, using schema to
// resolve attribute conflicts.
func New(replica clock.ReplicaID, t *text.Text, schema Schema) *RichText {
	return &RichText{
		clock:         clock.New(replica),
		text:          t,
		schema:        schema,
		spans:         make(map[SpanID]*Span),
		pendingClears: make(map[SpanID]bool),
		subs:          make(map[int]Subscriber),
	}
}

// Range is a contiguous chunk of text sharing identical merged attributes,
// returned by GetRanges.
type Range struct {
	Text  string
	Attrs map[string]AttrValue
}

// endExclusive resolves the caller-facing half-open [start,end) convention
// to the inclusive anchor pair the span actually stores, treating end<=start
// as the single-character span at start (spec §4.D edge case 3).
func (r *RichText) endExclusive(start, end int) (int, error) {
	last := end
	if last <= start {
		last = start + 1
	}
	if start < 0 || last > r.text.Len() {
		return 0, errs.New(errs.OutOfRange, "richtext", nil)
	}
	return last, nil
}

// Format creates a new span covering [start,end) with attrs, anchored to
// the characters currently at those positions.
func (r *RichText) Format(start, end int, attrs map[string]AttrValue) (Op, error) {
	return r.newSpan(start, end, attrs, false)
}

// Unformat creates a span whose keys in attrs are removed (semantics per
// each attribute's merge strategy).
func (r *RichText) Unformat(start, end int, attrs map[string]AttrValue) (Op, error) {
	return r.newSpan(start, end, attrs, true)
}

func (r *RichText) newSpan(start, end int, attrs map[string]AttrValue, remove bool) (Op, error) {
	r.mu.Lock()

	last, err := r.endExclusive(start, end)
	if err != nil {
		r.mu.Unlock()
		return Op{}, err
	}
	startID, ok := r.text.CharAt(start)
	if !ok {
		r.mu.Unlock()
		return Op{}, errs.New(errs.OutOfRange, "richtext.Format", nil)
	}
	endID, ok := r.text.CharAt(last - 1)
	if !ok {
		r.mu.Unlock()
		return Op{}, errs.New(errs.OutOfRange, "richtext.Format", nil)
	}

	stamp := r.clock.Now()
	span := Span{
		OpID:   clock.OperationID{Replica: stamp.Replica, Clock: stamp.Counter},
		Start:  startID,
		End:    endID,
		Attrs:  attrs,
		Remove: remove,
		Stamp:  stamp,
	}
	r.spans[span.OpID] = &span
	r.mu.Unlock()
	r.notify()
	return Op{Kind: OpFormat, Span: span}, nil
}

// ClearFormats tombstones every active span overlapping [start,end); the
// spans themselves remain in the set as tombstones (spec §4.D).
func (r *RichText) ClearFormats(start, end int) ([]Op, error) {
	r.mu.Lock()

	last, err := r.endExclusive(start, end)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	var ops []Op
	for _, span := range r.spans {
		if span.Deleted {
			continue
		}
		if r.spanOverlaps(span, start, last) {
			span.Deleted = true
			ops = append(ops, Op{Kind: OpClear, Target: span.OpID})
		}
	}
	r.mu.Unlock()
	r.notify()
	return ops, nil
}

// spanOverlaps reports whether span's current visible range intersects the
// half-open [start,end) position range. A span whose anchors are no longer
// visible (tombstoned text) never overlaps.
func (r *RichText) spanOverlaps(span *Span, start, end int) bool {
	sPos := r.text.IndexOf(span.Start)
	ePos := r.text.IndexOf(span.End)
	if sPos == -1 || ePos == -1 {
		return false
	}
	return sPos < end && ePos >= start
}

// GetFormats returns the merged attributes active at visible position pos.
func (r *RichText) GetFormats(pos int) (map[string]AttrValue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pos < 0 || pos >= r.text.Len() {
		return nil, errs.New(errs.OutOfRange, "richtext.GetFormats", nil)
	}
	return r.mergedAttrsAt(pos), nil
}

func (r *RichText) mergedAttrsAt(pos int) map[string]AttrValue {
	var covering []*Span
	for _, span := range r.spans {
		if span.Deleted {
			continue
		}
		if r.spanOverlaps(span, pos, pos+1) {
			covering = append(covering, span)
		}
	}
	if len(covering) == 0 {
		return map[string]AttrValue{}
	}

	byAttr := make(map[string][]*Span)
	for _, span := range covering {
		for key := range span.Attrs {
			byAttr[key] = append(byAttr[key], span)
		}
	}

	out := make(map[string]AttrValue, len(byAttr))
	for attr, spans := range byAttr {
		sort.Slice(spans, func(i, j int) bool {
			return clock.Less(spans[i].Stamp, spans[j].Stamp)
		})
		switch r.schema.strategyFor(attr) {
		case StrategyUnion:
			// Add-wins OR: truthy if ANY contributing Format span (regardless
			// of stamp order) sets a truthy value, not just the latest one
			// (spec §3: "truthy values combine").
			for _, span := range spans {
				if span.Remove {
					continue
				}
				if v, ok := span.Attrs[attr]; ok && truthy(v) {
					out[attr] = true
					break
				}
			}
		case StrategyCustom:
			fn := r.schema.Custom[attr]
			acc := spans[0].Attrs[attr]
			for _, span := range spans[1:] {
				if fn != nil {
					acc = fn(Span{Attrs: map[string]AttrValue{attr: acc}}, *span)
				} else {
					acc = span.Attrs[attr]
				}
			}
			out[attr] = acc
		default: // StrategyLWW
			winner := spans[0]
			for _, span := range spans[1:] {
				if span.Stamp.Counter > winner.Stamp.Counter ||
					(span.Stamp.Counter == winner.Stamp.Counter && span.Stamp.Replica < winner.Stamp.Replica) {
					winner = span
				}
			}
			if !winner.Remove {
				out[attr] = winner.Attrs[attr]
			}
		}
	}
	return out
}

// GetRanges returns the minimal sequence of (substring, attributes) chunks
// covering the visible document.
func (r *RichText) GetRanges() []Range {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.text.Len()
	if n == 0 {
		return nil
	}
	full := r.text.ToString()
	runes := []rune(full)

	var ranges []Range
	var buf []rune
	var current map[string]AttrValue

	flush := func() {
		if len(buf) > 0 {
			ranges = append(ranges, Range{Text: string(buf), Attrs: current})
			buf = nil
		}
	}

	for i := 0; i < n; i++ {
		attrs := r.mergedAttrsAt(i)
		if current == nil || !attrsEqual(current, attrs) {
			flush()
			current = attrs
		}
		buf = append(buf, runes[i])
	}
	flush()
	return ranges
}

// truthy reports whether v counts as "set" for a StrategyUnion toggle
// attribute: anything but nil or literal false.
func truthy(v AttrValue) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func attrsEqual(a, b map[string]AttrValue) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// ApplyRemote applies a single remote Op.
func (r *RichText) ApplyRemote(op Op) {
	r.mu.Lock()

	switch op.Kind {
	case OpFormat:
		if _, exists := r.spans[op.Span.OpID]; exists {
			r.mu.Unlock()
			return // idempotent re-delivery
		}
		span := op.Span
		r.spans[span.OpID] = &span
		r.clock.Observe(clock.VectorClock{span.OpID.Replica: span.OpID.Clock})
		if r.pendingClears[span.OpID] {
			delete(r.pendingClears, span.OpID)
			span.Deleted = true
		}
	case OpClear:
		if span, known := r.spans[op.Target]; known {
			span.Deleted = true
		} else {
			r.pendingClears[op.Target] = true
		}
	}
	r.mu.Unlock()
	r.notify()
}

// Subscribe registers cb to fire after every accepted change. The returned
// func unsubscribes.
func (r *RichText) Subscribe(cb Subscriber) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = cb
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *RichText) notify() {
	r.mu.RLock()
	cbs := make([]Subscriber, 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() { _ = recover() }()
			cb()
		}()
	}
}
