package chatsync

import "sort"

// timeline owns the ordered message sequence and the seen-ID set of one
// session. Confirmed messages are kept sorted by (timestamp, id); pending
// optimistic sends live at the tail in submission order until confirmed
// or discarded.
type timeline struct {
	msgs    []Message
	seen    map[string]struct{}
	pending []Message // submission order
}

func newTimeline() *timeline {
	return &timeline{seen: make(map[string]struct{})}
}

// insert adds m unless its ID has been seen, returning whether the
// timeline changed. Position is (timestamp, id), independent of arrival
// order.
func (t *timeline) insert(m Message) bool {
	if m.ID == "" {
		return false
	}
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}

	i := sort.Search(len(t.msgs), func(i int) bool {
		return m.before(t.msgs[i])
	})
	t.msgs = append(t.msgs, Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = m
	return true
}

// addPending appends an optimistic send at the tail.
func (t *timeline) addPending(m Message) {
	m.Pending = true
	t.pending = append(t.pending, m)
}

// confirm removes the pending entry with the given temporary ID and
// inserts the confirmed message under the normal dedup rule. The render
// key carries over so display lists keep their identity. added reports
// whether the insert changed the timeline: false means a live echo of the
// same ID won the race, and the returned message is the stored copy with
// the render key the caller has already seen.
func (t *timeline) confirm(localID string, confirmed Message) (Message, bool, bool) {
	i, ok := t.findPending(localID)
	if !ok {
		return Message{}, false, false
	}
	confirmed.LocalKey = t.pending[i].LocalKey
	t.pending = append(t.pending[:i], t.pending[i+1:]...)
	if !t.insert(confirmed) {
		return t.byID(confirmed.ID), false, true
	}
	return confirmed, true, true
}

// byID returns the stored copy of a confirmed message.
func (t *timeline) byID(id string) Message {
	for _, m := range t.msgs {
		if m.ID == id {
			return m
		}
	}
	return Message{}
}

// fail marks the pending entry failed. It stays visible for caller-driven
// retry or removal; failed sends are never silently dropped.
func (t *timeline) fail(localID string) (Message, bool) {
	i, ok := t.findPending(localID)
	if !ok {
		return Message{}, false
	}
	t.pending[i].Pending = false
	t.pending[i].Failed = true
	return t.pending[i], true
}

// reactivate flips a failed entry back to pending ahead of a retry.
func (t *timeline) reactivate(localID string) (Message, bool) {
	i, ok := t.findPending(localID)
	if !ok || !t.pending[i].Failed {
		return Message{}, false
	}
	t.pending[i].Failed = false
	t.pending[i].Pending = true
	return t.pending[i], true
}

// discard removes a pending or failed entry.
func (t *timeline) discard(localID string) bool {
	i, ok := t.findPending(localID)
	if !ok {
		return false
	}
	t.pending = append(t.pending[:i], t.pending[i+1:]...)
	return true
}

func (t *timeline) findPending(localID string) (int, bool) {
	for i := range t.pending {
		if t.pending[i].ID == localID {
			return i, true
		}
	}
	return 0, false
}

// watermark returns the newest confirmed timestamp, the gap-fill cursor
// after a reconnect.
func (t *timeline) watermark() int64 {
	if len(t.msgs) == 0 {
		return 0
	}
	return t.msgs[len(t.msgs)-1].Timestamp
}

// snapshot returns a copy of the timeline: confirmed messages in order,
// then pending sends in submission order.
func (t *timeline) snapshot() []Message {
	out := make([]Message, 0, len(t.msgs)+len(t.pending))
	out = append(out, t.msgs...)
	out = append(out, t.pending...)
	return out
}
