package journal

import (
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/id"
)

// Event types.
const (
	EventScan           = "scan"
	EventScanSkipped    = "scan_skipped"
	EventEntryReady     = "entry_ready"
	EventEntrySkipped   = "entry_skipped"
	EventOrderSubmitted = "order_submitted"
	EventOrderFilled    = "order_filled"
	EventOrderUnfilled  = "order_unfilled"
	EventOrderRejected  = "order_rejected"
	EventFillTimeout    = "fill_timeout"
	EventTPPosted       = "tp_posted"
	EventTPRefreshed    = "tp_refreshed"
	EventStopRaised     = "stop_raised"
	EventPartialExit    = "partial_exit"
	EventExit           = "exit"
	EventAdopted        = "position_adopted"
	EventCleared        = "position_cleared"
	EventKillSwitch     = "kill_switch"
	EventPreset         = "preset_changed"
	EventAutoTrade      = "auto_trade"
	EventError          = "error"
)

// Event is one structured log entry for the UI.
type Event struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventLog is a bounded ring of recent events with live subscribers.
type EventLog struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
	subs map[chan Event]struct{}
	now  func() time.Time
}

func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 500
	}
	return &EventLog{
		buf:  make([]Event, size),
		subs: make(map[chan Event]struct{}),
		now:  time.Now,
	}
}

// Add stamps ev with an id and time if missing, stores it and fans it out.
// Slow subscribers miss events rather than block the engine.
func (l *EventLog) Add(ev Event) Event {
	if ev.ID == "" {
		ev.ID = id.New()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = l.now().UTC()
	}
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Emit is Add with the common fields spelled out.
func (l *EventLog) Emit(typ, symbol, msg string, fields map[string]any) Event {
	return l.Add(Event{Type: typ, Symbol: symbol, Message: msg, Fields: fields})
}

// Recent returns up to limit events, oldest first. limit <= 0 means all.
func (l *EventLog) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	start := l.next - limit
	for i := 0; i < limit; i++ {
		idx := (start + i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Subscribe returns a channel of new events and a function that ends the
// subscription.
func (l *EventLog) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}
