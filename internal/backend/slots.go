package backend

import (
	"net/netip"
	"sync"
	"time"

	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/query"
)

// MaxSlots is the largest slot table a backend can have: one slot per
// possible 16-bit wire ID.
const MaxSlots = 1 << 16

// Slot is the in-flight state of one query forwarded to a backend. A slot is
// occupied while Origin is non-nil. An expired slot keeps only its question
// until the index is claimed again.
type Slot struct {
	Origin        query.Origin
	Client        netip.AddrPort
	Local         netip.AddrPort
	DestHarvested bool

	OrigID    uint16
	OrigFlags uint16
	Name      string
	Type      uint16
	Class     uint16

	CacheKey  uint64
	SkipCache bool
	Cache     *cache.Cache
	Pool      string

	EDNSAdded bool
	ECSAdded  bool

	Tags           map[string]string
	SentAt         time.Time
	Delay          time.Duration
	TempFailureTTL time.Duration

	age     uint16
	expired bool
}

// Occupied reports whether the slot holds a live query.
func (s *Slot) Occupied() bool { return s.Origin != nil }

// Age returns the number of ticks since the slot was claimed.
func (s *Slot) Age() uint16 { return s.age }

// MatchState is the result of looking up a slot by wire ID.
type MatchState int

const (
	MatchNone     MatchState = iota // slot was free
	MatchLive                       // slot held a query and was consumed
	MatchExpired                    // slot timed out before the response arrived
	MatchRejected                   // slot held a query the response does not answer; it was left in place
)

// SlotTable correlates wire IDs with in-flight queries. The ID sent to the
// backend is the slot index. Claims walk the table with a cursor, so under
// load an index is reused once per lap; an occupant still there at that
// point is evicted and its client never gets an answer.
//
// Slot lifecycle:
//
//	Free --Claim--> Occupied --Match--> Free
//	                Occupied --Tick (age > maxAge)--> Expired --Match--> Free
//	                Occupied --Claim (reuse)--> Occupied
//	                                                  Expired --Claim--> Occupied
type SlotTable struct {
	mu     sync.Mutex
	slots  []Slot
	cursor uint32
	maxAge uint16
}

// NewSlotTable creates a table with the given number of slots, clamped to
// [1, MaxSlots]. Slots older than maxAge ticks are expired.
func NewSlotTable(capacity int, maxAge uint16) *SlotTable {
	capacity = min(max(capacity, 1), MaxSlots)
	return &SlotTable{
		slots:  make([]Slot, capacity),
		maxAge: maxAge,
	}
}

// Cap returns the number of slots.
func (t *SlotTable) Cap() int { return len(t.slots) }

// Claim stores s in the next slot and returns its index. reused is true when
// the slot was still occupied, in which case the previous query is dropped.
func (t *SlotTable) Claim(s Slot) (index uint16, reused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	index = uint16(t.cursor % uint32(len(t.slots)))
	t.cursor++

	slot := &t.slots[index]
	reused = slot.Occupied()
	*slot = s
	slot.age = 0
	return index, reused
}

// Match looks up the slot for a response carrying wire ID index. A live
// slot is returned and freed in the same step, so a duplicate response for
// the same ID finds nothing. A response for a slot that Tick expired is
// reported as MatchExpired once, then the slot is free.
func (t *SlotTable) Match(index uint16) (Slot, MatchState) {
	return t.MatchIf(index, nil)
}

// MatchIf is Match with an extra check: a live slot is only consumed when
// accept returns true for it. Otherwise it stays occupied and MatchRejected
// is returned, so a stray response cannot cancel the query it collided with.
func (t *SlotTable) MatchIf(index uint16, accept func(*Slot) bool) (Slot, MatchState) {
	if int(index) >= len(t.slots) {
		return Slot{}, MatchNone
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := &t.slots[index]
	if slot.expired {
		if accept != nil && !accept(slot) {
			return Slot{}, MatchNone
		}
		*slot = Slot{}
		return Slot{}, MatchExpired
	}
	if !slot.Occupied() {
		return Slot{}, MatchNone
	}
	if accept != nil && !accept(slot) {
		return Slot{}, MatchRejected
	}
	s := *slot
	*slot = Slot{}
	return s, MatchLive
}

// Tick ages every occupied slot by one and expires those older than maxAge.
// An expired slot no longer counts as occupied. It returns the number of
// slots expired.
func (t *SlotTable) Tick() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := 0
	for i := range t.slots {
		slot := &t.slots[i]
		if !slot.Occupied() {
			continue
		}
		slot.age++
		if slot.age > t.maxAge {
			*slot = Slot{Name: slot.Name, Type: slot.Type, Class: slot.Class, expired: true}
			expired++
		}
	}
	return expired
}

// Occupied returns the number of occupied slots.
func (t *SlotTable) Occupied() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].Occupied() {
			n++
		}
	}
	return n
}
