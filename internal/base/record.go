// Package base keeps the correspondence between Telegram chats and ClickUp
// tasks. An Index holds the records in memory and exposes them through a
// by-chat view and a by-task view; a Driver persists the full set.
package base

import "context"

// Stored field names, in column order.
const (
	FieldChat    = "chat"
	FieldTask    = "task"
	FieldAccount = "account"
)

// Record links one chat conversation to one tracked task.
type Record struct {
	Chat    string `json:"chat"`
	Task    string `json:"task"`
	Account string `json:"account,omitempty"`
}

// Fields returns the stored field names in column order.
func (Record) Fields() []string {
	return []string{FieldChat, FieldTask, FieldAccount}
}

// Values returns the field values in the order of Fields.
func (r Record) Values() []string {
	return []string{r.Chat, r.Task, r.Account}
}

// set assigns a value by stored field name. Unknown names are ignored.
func (r *Record) set(field, value string) {
	switch field {
	case FieldChat:
		r.Chat = value
	case FieldTask:
		r.Task = value
	case FieldAccount:
		r.Account = value
	}
}

// RecordFromRow zips a header with one row of values. Missing trailing
// values leave the corresponding fields empty.
func RecordFromRow(header, values []string) Record {
	var r Record
	for i, value := range values {
		if i >= len(header) {
			break
		}
		r.set(header[i], value)
	}
	return r
}

// Driver loads and saves the full record set. Implementations never touch
// the in-memory index.
type Driver interface {
	// Load returns every stored record in stored order.
	Load(ctx context.Context) ([]Record, error)
	// Save replaces the stored set. It reports false without writing when
	// records is empty.
	Save(ctx context.Context, records []Record) (bool, error)
}

// nopDriver is installed until SetDriver is called.
type nopDriver struct{}

func (nopDriver) Load(context.Context) ([]Record, error)        { return nil, nil }
func (nopDriver) Save(context.Context, []Record) (bool, error) { return false, nil }
