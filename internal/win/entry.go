package win

import "strconv"

// Pending is an optimistic record that has not been confirmed by the store.
// TempID is unique within one process only.
type Pending struct {
	TempID    string       `json:"temp_id" yaml:"temp_id"`
	Title     string       `json:"title" yaml:"title"`
	Category  string       `json:"category" yaml:"category"`
	CreatedAt string       `json:"created_at" yaml:"created_at"`
	State     PersistState `json:"state" yaml:"state"`
	Err       error        `json:"-" yaml:"-"`
}

// Entry is one row of the view. It is either Durable or Optimistic;
// the unexported method closes the set so a type switch over both cases
// is exhaustive.
type Entry interface {
	// Key is stable for the lifetime of the row and distinct across kinds.
	Key() string
	entry()
}

// Durable wraps a record confirmed by the store.
type Durable struct {
	Record
}

// Optimistic wraps a pending record.
type Optimistic struct {
	Pending
}

func (d Durable) Key() string    { return "id:" + strconv.FormatInt(d.ID, 10) }
func (o Optimistic) Key() string { return "tmp:" + o.TempID }

func (Durable) entry()    {}
func (Optimistic) entry() {}

// Failed reports whether the entry is an optimistic append whose insert failed.
func Failed(e Entry) bool {
	o, ok := e.(Optimistic)
	return ok && o.State == StateFailed
}
