package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/basket/clickgram/internal/bus"
)

// memDriver records every save and serves a fixed load result.
type memDriver struct {
	mu      sync.Mutex
	load    []Record
	loadErr error
	saveErr error
	saves   [][]Record
	delay   time.Duration
}

func (d *memDriver) Load(context.Context) ([]Record, error) {
	return d.load, d.loadErr
}

func (d *memDriver) Save(_ context.Context, records []Record) (bool, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return false, d.saveErr
	}
	if len(records) == 0 {
		return false, nil
	}
	cp := append([]Record(nil), records...)
	d.saves = append(d.saves, cp)
	return true, nil
}

func (d *memDriver) last() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.saves) == 0 {
		return nil
	}
	return d.saves[len(d.saves)-1]
}

func newTestIndex(t *testing.T, d Driver) *Index {
	t.Helper()
	x := NewIndex(Options{Driver: d})
	t.Cleanup(x.Wait)
	return x
}

func TestIndex_SetOnEmpty(t *testing.T) {
	x := newTestIndex(t, &memDriver{})
	if x.Size() != 0 {
		t.Fatalf("size = %d, want 0", x.Size())
	}

	if err := x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if x.Size() != 1 {
		t.Fatalf("size = %d, want 1", x.Size())
	}
	rec, ok := x.GetByTask("t1")
	if !ok || rec.Chat != "c1" {
		t.Fatalf("GetByTask(t1) = %+v, %v; want chat c1", rec, ok)
	}
}

func TestIndex_LoadAssignsPositionalKeys(t *testing.T) {
	d := &memDriver{load: []Record{
		{Chat: "c1", Task: "t1"},
		{Chat: "c2", Task: "t2"},
	}}
	x := newTestIndex(t, d)
	if err := x.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if x.Size() != 2 {
		t.Fatalf("size = %d, want 2", x.Size())
	}
	for chat, task := range map[string]string{"c1": "t1", "c2": "t2"} {
		rec, ok := x.GetByChat(chat)
		if !ok || rec.Task != task {
			t.Fatalf("GetByChat(%s) = %+v, %v; want task %s", chat, rec, ok, task)
		}
	}
	if got := x.Chats(); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("Chats() = %v", got)
	}

	// The next insert continues after the loaded keys.
	if err := x.SetByChat("c3", Record{Chat: "c3", Task: "t3"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := x.Tasks(); !reflect.DeepEqual(got, []string{"t1", "t2", "t3"}) {
		t.Fatalf("Tasks() = %v", got)
	}
}

func TestIndex_LoadSkipsDuplicateKeys(t *testing.T) {
	d := &memDriver{load: []Record{
		{Chat: "c1", Task: "t1"},
		{Chat: "c1", Task: "t2"},
		{Chat: "c3", Task: "t1"},
		{Chat: "c4", Task: "t4"},
	}}
	x := newTestIndex(t, d)
	if err := x.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if x.Size() != 2 || !reflect.DeepEqual(x.Chats(), []string{"c1", "c4"}) {
		t.Fatalf("size=%d chats=%v", x.Size(), x.Chats())
	}
	if rec, _ := x.GetByChat("c1"); rec.Task != "t1" {
		t.Fatalf("first row must win, got %+v", rec)
	}

	x.DeleteByChat("c1")
	if x.Size() != 1 || x.HasChat("c1") || x.HasTask("t1") {
		t.Fatalf("unreachable record left: size=%d chats=%v", x.Size(), x.Chats())
	}
	// Keys stay dense, so the next insert lands after the kept rows.
	if err := x.SetByChat("c5", Record{Chat: "c5", Task: "t5"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := x.Tasks(); !reflect.DeepEqual(got, []string{"t4", "t5"}) {
		t.Fatalf("Tasks() = %v", got)
	}
}

func TestIndex_LoadError(t *testing.T) {
	d := &memDriver{loadErr: errors.New("disk gone")}
	x := newTestIndex(t, d)
	if err := x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := x.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if !x.HasChat("c1") {
		t.Fatal("failed load must keep existing state")
	}
}

func TestIndex_OverwriteInPlace(t *testing.T) {
	d := &memDriver{}
	x := newTestIndex(t, d)
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	mustSet(t, x.SetByChat("c2", Record{Chat: "c2", Task: "t2"}))

	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t9", Account: "alice"}))
	if x.Size() != 2 {
		t.Fatalf("size = %d, want 2", x.Size())
	}
	if x.HasTask("t1") {
		t.Fatal("stale task t1 still in task view")
	}
	rec, ok := x.GetByTask("t9")
	if !ok || rec.Chat != "c1" || rec.Account != "alice" {
		t.Fatalf("GetByTask(t9) = %+v, %v", rec, ok)
	}
	// Position is unchanged: c1 stays first.
	if got := x.Chats(); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("Chats() = %v", got)
	}
}

func TestIndex_SetByTaskReassignsChat(t *testing.T) {
	x := newTestIndex(t, &memDriver{})
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))

	mustSet(t, x.SetByTask("t1", Record{Chat: "c5", Task: "t1"}))
	if x.HasChat("c1") {
		t.Fatal("old chat still present after reassignment")
	}
	rec, ok := x.GetByChat("c5")
	if !ok || rec.Task != "t1" {
		t.Fatalf("GetByChat(c5) = %+v, %v", rec, ok)
	}
	if x.Size() != 1 {
		t.Fatalf("size = %d, want 1", x.Size())
	}
}

func TestIndex_Conflict(t *testing.T) {
	x := newTestIndex(t, &memDriver{})
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	mustSet(t, x.SetByChat("c2", Record{Chat: "c2", Task: "t2"}))

	err := x.SetByChat("c3", Record{Chat: "c3", Task: "t1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	err = x.SetByChat("c2", Record{Chat: "c1", Task: "t2"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if x.Size() != 2 || x.HasChat("c3") {
		t.Fatal("rejected write changed the index")
	}
	checkViews(t, x)
}

func TestIndex_Delete(t *testing.T) {
	d := &memDriver{}
	x := newTestIndex(t, d)
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	mustSet(t, x.SetByChat("c2", Record{Chat: "c2", Task: "t2"}))

	x.DeleteByTask("t1")
	if x.HasChat("c1") || x.HasTask("t1") {
		t.Fatal("deleted record still visible")
	}
	if x.Size() != 1 {
		t.Fatalf("size = %d, want 1", x.Size())
	}

	x.Wait()
	saves := len(d.saves)
	x.DeleteByChat("nope")
	x.DeleteByTask("nope")
	x.Wait()
	if x.Size() != 1 {
		t.Fatalf("size after absent delete = %d, want 1", x.Size())
	}
	if len(d.saves) != saves {
		t.Fatal("absent delete must not persist")
	}
}

func TestIndex_KeysNotReusedAfterDelete(t *testing.T) {
	d := &memDriver{}
	x := newTestIndex(t, d)
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	mustSet(t, x.SetByChat("c2", Record{Chat: "c2", Task: "t2"}))
	x.DeleteByChat("c1")
	mustSet(t, x.SetByChat("c3", Record{Chat: "c3", Task: "t3"}))

	// c2 must survive the insert that follows a delete.
	rec, ok := x.GetByChat("c2")
	if !ok || rec.Task != "t2" {
		t.Fatalf("GetByChat(c2) = %+v, %v", rec, ok)
	}
	if got := x.Chats(); !reflect.DeepEqual(got, []string{"c2", "c3"}) {
		t.Fatalf("Chats() = %v", got)
	}
	x.Wait()
	want := []Record{{Chat: "c2", Task: "t2"}, {Chat: "c3", Task: "t3"}}
	if got := d.last(); !reflect.DeepEqual(got, want) {
		t.Fatalf("last save = %v, want %v", got, want)
	}
}

func TestIndex_ClearDoesNotPersist(t *testing.T) {
	d := &memDriver{}
	x := newTestIndex(t, d)
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	x.Wait()
	saves := len(d.saves)

	x.Clear()
	x.Wait()
	if x.Size() != 0 || x.HasChat("c1") || x.HasTask("t1") {
		t.Fatal("clear left state behind")
	}
	if len(d.saves) != saves {
		t.Fatal("clear must not persist")
	}
}

func TestIndex_SaveOrder(t *testing.T) {
	d := &memDriver{}
	x := newTestIndex(t, d)
	for i := 0; i < 12; i++ {
		id := fmt.Sprint(i)
		mustSet(t, x.SetByChat("c"+id, Record{Chat: "c" + id, Task: "t" + id}))
	}
	x.Wait()
	ok, err := x.Save(context.Background())
	if err != nil || !ok {
		t.Fatalf("save = %v, %v", ok, err)
	}
	last := d.last()
	for i, r := range last {
		if r.Chat != fmt.Sprintf("c%d", i) {
			t.Fatalf("record %d = %+v, want key order", i, r)
		}
	}
}

func TestIndex_SaveEmpty(t *testing.T) {
	x := newTestIndex(t, &memDriver{})
	ok, err := x.Save(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok {
		t.Fatal("empty save must report not saved")
	}
}

func TestIndex_PersistFailureKeepsState(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	d := &memDriver{saveErr: errors.New("read-only fs")}
	x := NewIndex(Options{Driver: d, OnPersistError: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}})
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	x.Wait()

	if !x.HasChat("c1") {
		t.Fatal("in-memory write rolled back after persist failure")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("persist errors = %d, want 1", len(errs))
	}
}

func TestIndex_LastPersistWins(t *testing.T) {
	d := &memDriver{delay: time.Millisecond}
	x := newTestIndex(t, d)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			if err := x.SetByChat("c"+id, Record{Chat: "c" + id, Task: "t" + id}); err != nil {
				t.Errorf("set %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	x.Wait()

	if x.Size() != 20 {
		t.Fatalf("size = %d, want 20", x.Size())
	}
	if got := len(d.last()); got != 20 {
		t.Fatalf("file reflects %d records, want 20", got)
	}
	checkViews(t, x)

	keys := map[int]bool{}
	x.mu.RLock()
	for key := range x.data {
		keys[key] = true
	}
	x.mu.RUnlock()
	for i := 0; i < 20; i++ {
		if !keys[i] {
			t.Fatalf("key %d missing; concurrent inserts must get distinct keys", i)
		}
	}
}

func TestIndex_SetDriver(t *testing.T) {
	first, second := &memDriver{}, &memDriver{}
	x := newTestIndex(t, first)
	x.SetDriver(second)
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	x.Wait()
	if len(first.saves) != 0 || len(second.saves) != 1 {
		t.Fatalf("saves first=%d second=%d, want 0/1", len(first.saves), len(second.saves))
	}
}

func TestIndex_PublishesLifecycle(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("record.")
	defer b.Unsubscribe(sub)

	x := NewIndex(Options{Bus: b})
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t1"}))
	mustSet(t, x.SetByChat("c1", Record{Chat: "c1", Task: "t2"}))
	x.DeleteByTask("t2")
	x.Wait()

	want := []string{bus.TopicRecordCreated, bus.TopicRecordUpdated, bus.TopicRecordDeleted}
	for _, topic := range want {
		select {
		case ev := <-sub.Ch():
			if ev.Topic != topic {
				t.Fatalf("topic = %q, want %q", ev.Topic, topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", topic)
		}
	}
}

// TestIndex_RandomOperations checks that after every operation the two
// views hold exactly the live records and agree on their keys.
func TestIndex_RandomOperations(t *testing.T) {
	x := newTestIndex(t, &memDriver{})
	rng := rand.New(rand.NewSource(7))
	model := map[string]string{} // chat -> task

	for step := 0; step < 500; step++ {
		chat := fmt.Sprintf("c%d", rng.Intn(15))
		task := fmt.Sprintf("t%d", rng.Intn(15))
		switch rng.Intn(4) {
		case 0, 1:
			sizeBefore := x.Size()
			_, existed := model[chat]
			err := x.SetByChat(chat, Record{Chat: chat, Task: task})
			owner := ""
			for c, tk := range model {
				if tk == task && c != chat {
					owner = c
				}
			}
			if owner != "" {
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("step %d: want conflict, got %v", step, err)
				}
				break
			}
			if err != nil {
				t.Fatalf("step %d: set: %v", step, err)
			}
			model[chat] = task
			want := sizeBefore
			if !existed {
				want++
			}
			if x.Size() != want {
				t.Fatalf("step %d: size = %d, want %d", step, x.Size(), want)
			}
		case 2:
			x.DeleteByChat(chat)
			delete(model, chat)
		case 3:
			x.DeleteByTask(task)
			for c, tk := range model {
				if tk == task {
					delete(model, c)
				}
			}
		}
		checkViews(t, x)
		chats := x.Chats()
		sort.Strings(chats)
		var want []string
		for c := range model {
			want = append(want, c)
		}
		sort.Strings(want)
		if len(chats) != len(want) || (len(want) > 0 && !reflect.DeepEqual(chats, want)) {
			t.Fatalf("step %d: chats = %v, want %v", step, chats, want)
		}
	}
}

func checkViews(t *testing.T, x *Index) {
	t.Helper()
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.chat) != len(x.data) || len(x.task) != len(x.data) {
		t.Fatalf("view sizes chat=%d task=%d data=%d", len(x.chat), len(x.task), len(x.data))
	}
	for key, rec := range x.data {
		if x.chat[rec.Chat] != key || x.task[rec.Task] != key {
			t.Fatalf("record %d (%+v) not reachable through both views", key, rec)
		}
	}
}

func mustSet(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("set: %v", err)
	}
}
