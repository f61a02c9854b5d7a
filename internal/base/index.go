package base

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/basket/clickgram/internal/bus"
)

// ErrConflict is returned when a write would give a chat or a task to two
// live records.
var ErrConflict = errors.New("record conflicts with another record")

// Options configures an Index.
type Options struct {
	Driver Driver
	Logger *slog.Logger
	Bus    *bus.Bus // may be nil

	// OnPersistError is called after a failed background persist.
	OnPersistError func(error)
}

// Index is the in-memory record set. Records live in a primary map keyed by
// a synthetic sequence number; the chat and task views map external ids to
// that number and are rebuilt on every write. Every accepted write schedules
// a full persist through the driver.
type Index struct {
	mu      sync.RWMutex
	data    map[int]Record
	chat    map[string]int
	task    map[string]int
	nextKey int
	gen     uint64

	driverMu sync.RWMutex
	driver   Driver

	saveMu  sync.Mutex
	saved   uint64
	pending sync.WaitGroup

	logger         *slog.Logger
	bus            *bus.Bus
	onPersistError func(error)
}

// NewIndex returns an empty index.
func NewIndex(opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driver := opts.Driver
	if driver == nil {
		driver = nopDriver{}
	}
	return &Index{
		data:           make(map[int]Record),
		chat:           make(map[string]int),
		task:           make(map[string]int),
		driver:         driver,
		logger:         logger,
		bus:            opts.Bus,
		onPersistError: opts.OnPersistError,
	}
}

// SetDriver installs the storage backend.
func (x *Index) SetDriver(d Driver) {
	if d == nil {
		d = nopDriver{}
	}
	x.driverMu.Lock()
	x.driver = d
	x.driverMu.Unlock()
}

func (x *Index) currentDriver() Driver {
	x.driverMu.RLock()
	defer x.driverMu.RUnlock()
	return x.driver
}

// Size returns the number of live records.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.data)
}

func (x *Index) GetByChat(chat string) (Record, bool) { return x.get(x.chat, chat) }
func (x *Index) GetByTask(task string) (Record, bool) { return x.get(x.task, task) }

func (x *Index) HasChat(chat string) bool { return x.has(x.chat, chat) }
func (x *Index) HasTask(task string) bool { return x.has(x.task, task) }

// Chats returns the chat ids of all live records in key order.
func (x *Index) Chats() []string { return x.keys(func(r Record) string { return r.Chat }) }

// Tasks returns the task ids of all live records in key order.
func (x *Index) Tasks() []string { return x.keys(func(r Record) string { return r.Task }) }

// SetByChat writes rec under chat: in place when chat is already known,
// otherwise as a new record.
func (x *Index) SetByChat(chat string, rec Record) error { return x.set(x.chat, chat, rec) }

// SetByTask writes rec under task: in place when task is already known,
// otherwise as a new record.
func (x *Index) SetByTask(task string, rec Record) error { return x.set(x.task, task, rec) }

// DeleteByChat removes the record of chat. Unknown chats are ignored.
func (x *Index) DeleteByChat(chat string) { x.delete(x.chat, chat) }

// DeleteByTask removes the record of task. Unknown tasks are ignored.
func (x *Index) DeleteByTask(task string) { x.delete(x.task, task) }

func (x *Index) get(view map[string]int, id string) (Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	key, ok := view[id]
	if !ok {
		return Record{}, false
	}
	r, ok := x.data[key]
	return r, ok
}

func (x *Index) has(view map[string]int, id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := view[id]
	return ok
}

func (x *Index) keys(field func(Record) string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.data))
	for _, key := range x.sortedKeysLocked() {
		out = append(out, field(x.data[key]))
	}
	return out
}

func (x *Index) set(view map[string]int, id string, rec Record) error {
	x.mu.Lock()
	key, exists := view[id]
	if !exists {
		key = x.nextKey
	}
	if other, ok := x.chat[rec.Chat]; ok && other != key {
		x.mu.Unlock()
		return fmt.Errorf("chat %q: %w", rec.Chat, ErrConflict)
	}
	if other, ok := x.task[rec.Task]; ok && other != key {
		x.mu.Unlock()
		return fmt.Errorf("task %q: %w", rec.Task, ErrConflict)
	}

	if old, ok := x.data[key]; ok {
		delete(x.chat, old.Chat)
		delete(x.task, old.Task)
	} else {
		x.nextKey++
	}
	x.data[key] = rec
	x.chat[rec.Chat] = key
	x.task[rec.Task] = key
	snapshot, gen := x.snapshotLocked()
	x.mu.Unlock()

	topic := bus.TopicRecordUpdated
	if !exists {
		topic = bus.TopicRecordCreated
	}
	x.publish(topic, key, rec)
	x.persistAsync(snapshot, gen)
	return nil
}

func (x *Index) delete(view map[string]int, id string) {
	x.mu.Lock()
	key, ok := view[id]
	if !ok {
		x.mu.Unlock()
		return
	}
	rec := x.data[key]
	delete(x.data, key)
	delete(x.chat, rec.Chat)
	delete(x.task, rec.Task)
	snapshot, gen := x.snapshotLocked()
	x.mu.Unlock()

	x.publish(bus.TopicRecordDeleted, key, rec)
	x.persistAsync(snapshot, gen)
}

// Clear drops every record without persisting.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.data = make(map[int]Record)
	x.chat = make(map[string]int)
	x.task = make(map[string]int)
	x.nextKey = 0
}

// Load replaces the whole in-memory state with the driver's records. Keys
// are assigned 0..N-1 in stored order; rows repeating an earlier chat or
// task are skipped.
func (x *Index) Load(ctx context.Context) error {
	records, err := x.currentDriver().Load(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	data := make(map[int]Record, len(records))
	chat := make(map[string]int, len(records))
	task := make(map[string]int, len(records))
	for i, r := range records {
		// A hand-edited store may repeat a chat or task; the first row wins
		// so every stored record stays reachable through both views.
		if _, dup := chat[r.Chat]; dup {
			x.logger.Warn("skipping record with duplicate chat", "row", i, "chat_id", r.Chat, "task_id", r.Task)
			continue
		}
		if _, dup := task[r.Task]; dup {
			x.logger.Warn("skipping record with duplicate task", "row", i, "chat_id", r.Chat, "task_id", r.Task)
			continue
		}
		key := len(data)
		data[key] = r
		chat[r.Chat] = key
		task[r.Task] = key
	}

	x.mu.Lock()
	x.data = data
	x.chat = chat
	x.task = task
	x.nextKey = len(data)
	x.mu.Unlock()
	return nil
}

// Save hands every record, in key order, to the driver.
func (x *Index) Save(ctx context.Context) (bool, error) {
	x.mu.Lock()
	snapshot, gen := x.snapshotLocked()
	x.mu.Unlock()
	return x.persist(ctx, snapshot, gen)
}

// Wait blocks until every scheduled persist has finished.
func (x *Index) Wait() {
	x.pending.Wait()
}

func (x *Index) snapshotLocked() ([]Record, uint64) {
	x.gen++
	out := make([]Record, 0, len(x.data))
	for _, key := range x.sortedKeysLocked() {
		out = append(out, x.data[key])
	}
	return out, x.gen
}

func (x *Index) sortedKeysLocked() []int {
	keys := make([]int, 0, len(x.data))
	for key := range x.data {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

func (x *Index) persistAsync(snapshot []Record, gen uint64) {
	x.pending.Add(1)
	go func() {
		defer x.pending.Done()
		if _, err := x.persist(context.Background(), snapshot, gen); err != nil {
			x.logger.Error("persist records failed", "error", err, "records", len(snapshot))
			if x.onPersistError != nil {
				x.onPersistError(err)
			}
		}
	}()
}

// persist writes snapshot unless a newer one has already been written.
func (x *Index) persist(ctx context.Context, snapshot []Record, gen uint64) (bool, error) {
	x.saveMu.Lock()
	defer x.saveMu.Unlock()
	if gen <= x.saved {
		return false, nil
	}
	ok, err := x.currentDriver().Save(ctx, snapshot)
	if err != nil {
		return false, fmt.Errorf("save records: %w", err)
	}
	x.saved = gen
	return ok, nil
}

func (x *Index) publish(topic string, key int, rec Record) {
	if x.bus == nil {
		return
	}
	x.bus.Publish(topic, bus.RecordEvent{Key: key, Chat: rec.Chat, Task: rec.Task, Account: rec.Account})
}
