package persistence

import (
	"net"
	"os"
	"testing"
	"time"
)

type chest struct {
	Gold     int
	Treasure uint8
	Label    string `persist:"label"`
	Secret   string `persist:"-"`
	Tags     []string
	Extra    map[string]any
	Seen     time.Time
	Raw      []byte
	Nested   *chest
	Conn     net.Conn
	File     *os.File
	OnChange func()
	Events   chan int
	internal int
}

type declared struct {
	gold int
	conn net.Conn
}

func (d *declared) PersistentFields() map[string]any {
	return map[string]any{"gold": d.gold}
}

func TestSnapshotStructFields(t *testing.T) {
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &chest{
		Gold:     100,
		Treasure: 3,
		Label:    "main",
		Secret:   "hidden",
		Tags:     []string{"a", "b"},
		Extra:    map[string]any{"level": 2},
		Seen:     seen,
		Raw:      []byte{1, 2},
		Nested:   &chest{Gold: 5},
		OnChange: func() {},
		Events:   make(chan int),
		internal: 7,
	}

	snap := Snapshot(c)

	if snap["Gold"] != int64(100) {
		t.Errorf("Expected Gold int64(100), got %#v", snap["Gold"])
	}
	if snap["Treasure"] != uint64(3) {
		t.Errorf("Expected Treasure uint64(3), got %#v", snap["Treasure"])
	}
	if snap["label"] != "main" {
		t.Errorf("Expected renamed label field, got %#v", snap["label"])
	}
	if !snap["Seen"].(time.Time).Equal(seen) {
		t.Errorf("Expected Seen to be kept, got %#v", snap["Seen"])
	}
	for _, name := range []string{"Secret", "Label", "OnChange", "Events", "internal", "Conn", "File"} {
		if _, ok := snap[name]; ok {
			t.Errorf("Expected %s to be omitted", name)
		}
	}

	nested, ok := snap["Nested"].(map[string]any)
	if !ok || nested["Gold"] != int64(5) {
		t.Errorf("Expected nested struct as map, got %#v", snap["Nested"])
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := &chest{
		Tags:  []string{"a"},
		Extra: map[string]any{"level": 2, "list": []int{1}},
		Raw:   []byte{1},
	}
	snap := Snapshot(c)

	c.Tags[0] = "changed"
	c.Extra["level"] = 99
	c.Extra["list"].([]int)[0] = 42
	c.Raw[0] = 9

	if tags := snap["Tags"].([]any); tags[0] != "a" {
		t.Errorf("Expected Tags copy to be unchanged, got %v", tags)
	}
	extra := snap["Extra"].(map[string]any)
	if extra["level"] != int64(2) {
		t.Errorf("Expected Extra copy to be unchanged, got %v", extra["level"])
	}
	if list := extra["list"].([]any); list[0] != int64(1) {
		t.Errorf("Expected nested list copy to be unchanged, got %v", list)
	}
	if raw := snap["Raw"].([]byte); raw[0] != 1 {
		t.Errorf("Expected Raw copy to be unchanged, got %v", raw)
	}
}

func TestSnapshotPersistable(t *testing.T) {
	d := &declared{gold: 12}
	snap := Snapshot(d)

	if len(snap) != 1 || snap["gold"] != int64(12) {
		t.Errorf("Expected only declared fields, got %#v", snap)
	}
}

func TestSnapshotCycle(t *testing.T) {
	c := &chest{Gold: 1}
	c.Nested = c

	snap := Snapshot(c)
	if snap["Gold"] != int64(1) {
		t.Errorf("Expected Gold 1, got %#v", snap["Gold"])
	}
	if _, ok := snap["Nested"]; ok {
		t.Error("Expected cyclic pointer to be omitted")
	}

	m := map[string]any{"n": 1}
	m["self"] = m
	snap = Snapshot(m)
	if _, ok := snap["self"]; ok {
		t.Error("Expected self-referencing map to be omitted")
	}
}

type vault struct {
	Inv  chest
	Ref  *chest
	Self *vault
}

func TestSnapshotSharedAddressIsNotCycle(t *testing.T) {
	v := &vault{Inv: chest{Gold: 7}}
	v.Ref = &v.Inv
	v.Self = v

	snap := Snapshot(v)
	ref, ok := snap["Ref"].(map[string]any)
	if !ok {
		t.Fatalf("Expected Ref pointing at the first field to be kept, got %#v", snap)
	}
	if ref["Gold"] != int64(7) {
		t.Errorf("Expected Ref Gold 7, got %#v", ref["Gold"])
	}
	if inv := snap["Inv"].(map[string]any); inv["Gold"] != int64(7) {
		t.Errorf("Expected Inv Gold 7, got %#v", inv["Gold"])
	}
	if _, ok := snap["Self"]; ok {
		t.Error("Expected the real cycle through Self to be omitted")
	}
}

func TestSnapshotUnsupported(t *testing.T) {
	if snap := Snapshot(nil); len(snap) != 0 {
		t.Errorf("Expected empty snapshot for nil, got %#v", snap)
	}
	if snap := Snapshot(42); len(snap) != 0 {
		t.Errorf("Expected empty snapshot for int, got %#v", snap)
	}
	if snap := Snapshot(map[int]int{1: 2}); len(snap) != 0 {
		t.Errorf("Expected empty snapshot for int-keyed map, got %#v", snap)
	}
	var nilChest *chest
	if snap := Snapshot(nilChest); len(snap) != 0 {
		t.Errorf("Expected empty snapshot for nil pointer, got %#v", snap)
	}
}
