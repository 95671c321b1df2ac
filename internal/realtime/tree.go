package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

var (
	// ErrNotFound indicates no value exists at the requested path.
	ErrNotFound = errors.New("tree node not found")
	// ErrInvalidPath indicates a path that cannot be written.
	ErrInvalidPath = errors.New("invalid tree path")
)

// Listener receives the value at a subscribed path. The value is a private copy and nil
// when nothing is stored there. Listeners run while notification delivery is serialized
// and must not write to the tree synchronously.
type Listener func(value any)

type subscription struct {
	id   uint64
	path []string
	fn   Listener
}

type delivery struct {
	fn    Listener
	value any
}

// Tree is an in-memory JSON document addressed by slash separated paths. Values are
// normalized through encoding/json so readers observe the same shapes a remote JSON
// store would return.
type Tree struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	root     map[string]any
	subs     []*subscription
	nextID   uint64
	newKey   func() string
}

// NewTree constructs an empty tree.
func NewTree() *Tree {
	return &Tree{
		root:   make(map[string]any),
		newKey: newPushKey,
	}
}

func newPushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Get returns a copy of the value stored at path.
func (t *Tree) Get(path string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := lookup(t.root, splitPath(path))
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Decode decodes the value at path into out.
func (t *Tree) Decode(path string, out any) error {
	v, ok := t.Get(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return DecodeValue(v, out)
}

// Snapshot returns a copy of the whole document.
func (t *Tree) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return deepCopy(t.root).(map[string]any)
}

// Write replaces the value at path. A nil value removes the node.
func (t *Tree) Write(path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ErrInvalidPath
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	return t.mutate(func() ([][]string, error) {
		setAt(t.root, segs, normalized)
		return [][]string{segs}, nil
	})
}

// Update merges fields into the node at path. Keys may themselves contain slashes to
// address deeper children; nil values remove the addressed child.
func (t *Tree) Update(path string, fields map[string]any) error {
	segs := splitPath(path)
	normalized, err := normalizeFields(segs, fields)
	if err != nil {
		return err
	}
	return t.mutate(func() ([][]string, error) {
		return applyFields(t.root, normalized), nil
	})
}

// Push stores value under a new time-ordered child key of path and returns the key.
func (t *Tree) Push(path string, value any) (string, error) {
	key := t.newKey()
	if err := t.Write(joinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe registers fn for changes at, above or below path. fn is invoked once with the
// current value before Subscribe returns. The returned function removes the subscription.
func (t *Tree) Subscribe(path string, fn Listener) func() {
	segs := splitPath(path)

	t.mu.Lock()
	t.nextID++
	sub := &subscription{id: t.nextID, path: segs, fn: fn}
	t.subs = append(t.subs, sub)
	current, _ := lookup(t.root, segs)
	value := deepCopy(current)
	t.notifyMu.Lock()
	t.mu.Unlock()

	fn(value)
	t.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == sub.id {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Atomic runs fn against a private copy of the document. The copy replaces the document
// only when fn returns nil, and subscribers are notified after that commit.
func (t *Tree) Atomic(fn func(*Txn) error) error {
	return t.mutate(func() ([][]string, error) {
		txn := &Txn{root: deepCopy(t.root).(map[string]any), newKey: t.newKey}
		if err := fn(txn); err != nil {
			return nil, err
		}
		t.root = txn.root
		return txn.changed, nil
	})
}

// Transactor runs read-modify-write changes against a document.
type Transactor interface {
	Atomic(fn func(*Txn) error) error
}

// WriteUnlessSuperseded stores value at path unless the record already there supersedes it.
// The check and the write happen in one Atomic call, so a late writer holding an older
// record never replaces a newer one. It reports whether value was written.
func WriteUnlessSuperseded[T any](t Transactor, path string, value T, supersedes func(stored, incoming T) bool) (bool, error) {
	var written bool
	err := t.Atomic(func(txn *Txn) error {
		var stored T
		if err := txn.Decode(path, &stored); err == nil && supersedes(stored, value) {
			return nil
		}
		written = true
		return txn.Write(path, value)
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// mutate applies a change under the write lock and hands notification delivery over to
// notifyMu before releasing it, so deliveries observe mutation order.
func (t *Tree) mutate(apply func() ([][]string, error)) error {
	t.mu.Lock()
	changed, err := apply()
	if err != nil || len(changed) == 0 {
		t.mu.Unlock()
		return err
	}
	deliveries := t.collect(changed)
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()

	for _, d := range deliveries {
		d.fn(d.value)
	}
	return nil
}

func (t *Tree) collect(changed [][]string) []delivery {
	var out []delivery
	for _, sub := range t.subs {
		for _, c := range changed {
			if related(sub.path, c) {
				v, _ := lookup(t.root, sub.path)
				out = append(out, delivery{fn: sub.fn, value: deepCopy(v)})
				break
			}
		}
	}
	return out
}

// Txn is the view of the document inside Atomic.
type Txn struct {
	root    map[string]any
	changed [][]string
	newKey  func() string
}

// Get returns a copy of the value stored at path.
func (x *Txn) Get(path string) (any, bool) {
	v, ok := lookup(x.root, splitPath(path))
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Decode decodes the value at path into out.
func (x *Txn) Decode(path string, out any) error {
	v, ok := x.Get(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return DecodeValue(v, out)
}

// Write replaces the value at path within the transaction.
func (x *Txn) Write(path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ErrInvalidPath
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	setAt(x.root, segs, normalized)
	x.changed = append(x.changed, segs)
	return nil
}

// Update merges fields into the node at path within the transaction.
func (x *Txn) Update(path string, fields map[string]any) error {
	normalized, err := normalizeFields(splitPath(path), fields)
	if err != nil {
		return err
	}
	x.changed = append(x.changed, applyFields(x.root, normalized)...)
	return nil
}

// Push stores value under a new child key of path within the transaction.
func (x *Txn) Push(path string, value any) (string, error) {
	key := x.newKey()
	if err := x.Write(joinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// DecodeValue decodes a normalized tree value into out, matching fields by their json tags.
func DecodeValue(value any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("decode tree value: %w", err)
	}
	return nil
}

// Normalize converts value into the generic shapes produced by encoding/json. Numbers are
// kept as json.Number so integer amounts survive unchanged. Empty objects normalize to nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode tree value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize tree value: %w", err)
	}
	if m, ok := out.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	return out, nil
}

type field struct {
	path  []string
	value any
}

func normalizeFields(base []string, fields map[string]any) ([]field, error) {
	out := make([]field, 0, len(fields))
	for key, v := range fields {
		segs := append(append([]string(nil), base...), splitPath(key)...)
		if len(segs) == 0 {
			return nil, ErrInvalidPath
		}
		normalized, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		out = append(out, field{path: segs, value: normalized})
	}
	return out, nil
}

func applyFields(root map[string]any, fields []field) [][]string {
	changed := make([][]string, 0, len(fields))
	for _, f := range fields {
		setAt(root, f.path, f.value)
		changed = append(changed, f.path)
	}
	return changed
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func joinPath(path, key string) string {
	return strings.TrimRight(path, "/") + "/" + key
}

func lookup(root map[string]any, segs []string) (any, bool) {
	var node any = root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return node, true
}

// setAt stores v at segs, creating intermediate objects. Removing a value prunes parents
// left empty.
func setAt(node map[string]any, segs []string, v any) {
	if len(segs) == 1 {
		if v == nil {
			delete(node, segs[0])
		} else {
			node[segs[0]] = v
		}
		return
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		if v == nil {
			return
		}
		child = make(map[string]any)
		node[segs[0]] = child
	}
	setAt(child, segs[1:], v)
	if len(child) == 0 {
		delete(node, segs[0])
	}
}

// related reports whether one path is a prefix of the other.
func related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
