package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type record struct {
	ID        string     `json:"id"`
	Amount    int64      `json:"amount"`
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Resolved  *time.Time `json:"resolved,omitempty"`
	Secret    string     `json:"-"`
}

func TestWriteAndDecodeRoundTrip(t *testing.T) {
	tree := NewTree()
	now := time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC)
	in := record{ID: "d1", Amount: 9007199254740993, Status: "HELD", Timestamp: now, Resolved: &now, Secret: "x"}

	if err := tree.Write("deals/d1", in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out record
	if err := tree.Decode("deals/d1", &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Amount != in.Amount {
		t.Fatalf("expected amount %d, got %d", in.Amount, out.Amount)
	}
	if !out.Timestamp.Equal(now) || out.Resolved == nil || !out.Resolved.Equal(now) {
		t.Fatalf("unexpected timestamps: %+v", out)
	}
	if out.Secret != "" {
		t.Fatalf("expected secret to be dropped, got %q", out.Secret)
	}
}

func TestDecodeMissingPath(t *testing.T) {
	tree := NewTree()
	var out record
	if err := tree.Decode("deals/none", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesShallowly(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("deals/d1", map[string]any{"status": "A", "amount": 10}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tree.Update("deals/d1", map[string]any{"status": "B", "workLink": "https://x"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	v, ok := tree.Get("deals/d1")
	if !ok {
		t.Fatal("expected node to exist")
	}
	node := v.(map[string]any)
	if node["status"] != "B" || node["workLink"] != "https://x" {
		t.Fatalf("unexpected node: %#v", node)
	}
	if node["amount"] != json.Number("10") {
		t.Fatalf("expected amount to survive merge, got %#v", node["amount"])
	}
}

func TestUpdateMultiPath(t *testing.T) {
	tree := NewTree()
	err := tree.Update("", map[string]any{
		"requests/r1/status": "Accepted",
		"deals/d1":           map[string]any{"requestId": "r1"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v, _ := tree.Get("requests/r1/status"); v != "Accepted" {
		t.Fatalf("expected nested write, got %#v", v)
	}
	if _, ok := tree.Get("deals/d1/requestId"); !ok {
		t.Fatal("expected deal to be written")
	}
}

func TestWriteNilRemovesAndPrunes(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("chats/c1/messages/m1", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tree.Write("chats/c1/messages/m1", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := tree.Get("chats"); ok {
		t.Fatal("expected empty parents to be pruned")
	}
}

func TestWriteRootRejected(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("/", map[string]any{"a": 1}); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestPushKeysAreOrdered(t *testing.T) {
	tree := NewTree()
	first, err := tree.Push("chats/c1/messages", map[string]any{"text": "one"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	second, err := tree.Push("chats/c1/messages", map[string]any{"text": "two"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct keys")
	}
	if second < first {
		t.Fatalf("expected time-ordered keys, got %s before %s", first, second)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("users/u1", map[string]any{"name": "Ana"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, _ := tree.Get("users/u1")
	v.(map[string]any)["name"] = "mutated"

	again, _ := tree.Get("users/u1")
	if again.(map[string]any)["name"] != "Ana" {
		t.Fatal("expected stored value to be isolated from callers")
	}
}

func TestSubscribeDeliversInitialAndRelatedChanges(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("deals/d1", map[string]any{"status": "A"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []any
	unsubscribe := tree.Subscribe("deals", func(v any) { got = append(got, v) })

	if err := tree.Write("deals/d2", map[string]any{"status": "B"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tree.Write("requests/r1", map[string]any{"status": "Pending"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tree.Update("", map[string]any{"deals/d1/status": "C"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
	last := got[2].(map[string]any)
	if last["d1"].(map[string]any)["status"] != "C" || last["d2"] == nil {
		t.Fatalf("unexpected final snapshot: %#v", last)
	}

	unsubscribe()
	if err := tree.Write("deals/d3", map[string]any{"status": "D"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", len(got))
	}
}

func TestSubscribeSeesAncestorWrites(t *testing.T) {
	tree := NewTree()
	var got []any
	tree.Subscribe("deals/d1/status", func(v any) { got = append(got, v) })

	if err := tree.Write("deals", map[string]any{"d1": map[string]any{"status": "X"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(got) != 2 || got[0] != nil || got[1] != "X" {
		t.Fatalf("unexpected deliveries: %#v", got)
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("requests/r1", map[string]any{"status": "Pending"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var deliveries int
	tree.Subscribe("", func(any) { deliveries++ })

	boom := errors.New("boom")
	err := tree.Atomic(func(txn *Txn) error {
		if err := txn.Update("requests/r1", map[string]any{"status": "Accepted"}); err != nil {
			return err
		}
		if _, err := txn.Push("deals", map[string]any{"requestId": "r1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if v, _ := tree.Get("requests/r1/status"); v != "Pending" {
		t.Fatalf("expected rollback, got %v", v)
	}
	if _, ok := tree.Get("deals"); ok {
		t.Fatal("expected no deals after rollback")
	}
	if deliveries != 1 {
		t.Fatalf("expected only the initial delivery, got %d", deliveries)
	}
}

func TestAtomicCommitsAndNotifiesOnce(t *testing.T) {
	tree := NewTree()
	var deliveries int
	tree.Subscribe("", func(any) { deliveries++ })

	err := tree.Atomic(func(txn *Txn) error {
		if err := txn.Write("requests/r1", map[string]any{"status": "Accepted"}); err != nil {
			return err
		}
		return txn.Write("deals/d1", map[string]any{"requestId": "r1"})
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if deliveries != 2 {
		t.Fatalf("expected initial plus one commit delivery, got %d", deliveries)
	}
	if _, ok := tree.Get("deals/d1"); !ok {
		t.Fatal("expected committed deal")
	}
}

func TestConcurrentAtomicIncrementsAreSerialized(t *testing.T) {
	tree := NewTree()
	if err := tree.Write("counter", map[string]any{"n": 0}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tree.Atomic(func(txn *Txn) error {
				var c struct {
					N int `json:"n"`
				}
				if err := txn.Decode("counter", &c); err != nil {
					return err
				}
				return txn.Write("counter", map[string]any{"n": c.N + 1})
			})
		}()
	}
	wg.Wait()

	var c struct {
		N int `json:"n"`
	}
	if err := tree.Decode("counter", &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.N != 50 {
		t.Fatalf("expected 50, got %d", c.N)
	}
}

func TestWriteUnlessSupersededKeepsNewerRecord(t *testing.T) {
	tree := NewTree()
	newer := func(stored, incoming record) bool { return stored.Amount > incoming.Amount }

	var notified int
	unsubscribe := tree.Subscribe("deals/d1", func(any) { notified++ })
	defer unsubscribe()

	written, err := WriteUnlessSuperseded(tree, "deals/d1", record{ID: "d1", Amount: 2}, newer)
	if err != nil || !written {
		t.Fatalf("expected first write to land, got %v, %v", written, err)
	}
	written, err = WriteUnlessSuperseded(tree, "deals/d1", record{ID: "d1", Amount: 1}, newer)
	if err != nil || written {
		t.Fatalf("expected stale write to be skipped, got %v, %v", written, err)
	}

	var out record
	if err := tree.Decode("deals/d1", &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Amount != 2 {
		t.Fatalf("expected newer record to survive, got %+v", out)
	}
	if notified != 2 {
		t.Fatalf("expected initial delivery plus one change, got %d", notified)
	}
}
