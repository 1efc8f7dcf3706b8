package win

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ran 5k", "ran 5k"},
		{"trimmed", "  shipped it \n", "shipped it"},
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
		// "e" + combining acute accent composes to a single code point.
		{"nfc", "cafe\u0301", "caf\u00e9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.in))
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, DefaultCategory, NormalizeCategory(""))
	assert.Equal(t, DefaultCategory, NormalizeCategory("   "))
	assert.Equal(t, "health", NormalizeCategory(" health "))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 5, 0, 123456789, time.FixedZone("X", 2*3600))
	assert.Equal(t, "2026-03-04T08:05:00.123Z", FormatTime(ts))

	// Fixed width keeps lexical and chronological order aligned.
	earlier := FormatTime(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	later := FormatTime(time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC))
	assert.Less(t, earlier, later)
}

func TestCanTransition(t *testing.T) {
	legal := [][2]PersistState{
		{StateOptimistic, StateSubmitted},
		{StateSubmitted, StateReconciled},
		{StateSubmitted, StateFailed},
	}
	for _, p := range legal {
		assert.True(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}

	illegal := [][2]PersistState{
		{StateOptimistic, StateReconciled},
		{StateOptimistic, StateFailed},
		{StateReconciled, StateFailed},
		{StateFailed, StateSubmitted},
		{StateFailed, StateReconciled},
		{StateSubmitted, StateOptimistic},
	}
	for _, p := range illegal {
		assert.False(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}
}

func TestPersistState_String(t *testing.T) {
	assert.Equal(t, "submitted", StateSubmitted.String())
	assert.Equal(t, "PersistState(99)", PersistState(99).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubmitted.Terminal())
}

func TestEntryKeys(t *testing.T) {
	var entries = []Entry{
		Durable{Record{ID: 7, Title: "a"}},
		Optimistic{Pending{TempID: "abc", Title: "b", State: StateFailed}},
	}
	assert.Equal(t, "id:7", entries[0].Key())
	assert.Equal(t, "tmp:abc", entries[1].Key())
	assert.False(t, Failed(entries[0]))
	assert.True(t, Failed(entries[1]))
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{TempID: "x", From: StateFailed, To: StateReconciled}
	assert.Equal(t, "illegal transition failed -> reconciled (temp_id=x)", err.Error())
}
