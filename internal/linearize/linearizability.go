package linearize

import (
	"sort"
	"sync/atomic"
	"time"
)

// callKind distinguishes a call entry from its matching return entry
// in the flattened, time-sorted history checkSingle walks.
type callKind bool

const (
	invocation callKind = false
	response   callKind = true
)

// historyEntry is one call or return, flattened out of an Operation.
type historyEntry struct {
	kind  callKind
	value interface{}
	id    uint
	time  int64
}

type byTime []historyEntry

func (a byTime) Len() int           { return len(a) }
func (a byTime) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byTime) Less(i, j int) bool { return a[i].time < a[j].time }

// flatten splits each Operation into its call/return pair and sorts
// the result by timestamp — the sequence checkSingle tries to find a
// consistent total order over.
func flatten(history []Operation) []historyEntry {
	var entries []historyEntry
	id := uint(0)
	for _, op := range history {
		entries = append(entries, historyEntry{invocation, op.Input, id, op.Call})
		entries = append(entries, historyEntry{response, op.Output, id, op.Return})
		id++
	}
	sort.Sort(byTime(entries))
	return entries
}

// entryNode is one node of the doubly linked list checkSingle splices
// as it tries orderings. A call node's match points at its return
// node; a return node's match is nil.
type entryNode struct {
	value interface{}
	match *entryNode
	id    uint
	next  *entryNode
	prev  *entryNode
}

func insertBefore(n, mark *entryNode) *entryNode {
	if mark != nil {
		beforeMark := mark.prev
		mark.prev = n
		n.next = mark
		if beforeMark != nil {
			n.prev = beforeMark
			beforeMark.next = n
		}
	}
	return n
}

func length(n *entryNode) uint {
	l := uint(0)
	for n != nil {
		n = n.next
		l++
	}
	return l
}

// linkEntries builds the entryNode list from flattened entries, right
// to left, so a call's match back-reference to its return is ready as
// soon as the call node itself is created.
func linkEntries(entries []historyEntry) *entryNode {
	var root *entryNode
	match := make(map[uint]*entryNode)
	for i := len(entries) - 1; i >= 0; i-- {
		elem := entries[i]
		var n *entryNode
		if elem.kind == response {
			n = &entryNode{value: elem.value, id: elem.id}
			match[elem.id] = n
		} else {
			n = &entryNode{value: elem.value, match: match[elem.id], id: elem.id}
		}
		insertBefore(n, root)
		root = n
	}
	return root
}

// cacheEntry memoizes a (set of already-linearized calls, resulting
// model state) pair checkSingle has already tried, so the search
// doesn't re-explore the same branch twice.
type cacheEntry struct {
	linearized bitset
	state      interface{}
}

func cacheContains(model Model, cache map[uint64][]cacheEntry, entry cacheEntry) bool {
	for _, elem := range cache[entry.linearized.hash()] {
		if entry.linearized.equals(elem.linearized) && model.Equal(entry.state, elem.state) {
			return true
		}
	}
	return false
}

// pendingCall is a call checkSingle has tentatively linearized, kept
// so it can be undone (unlift) if that branch of the search dead-ends.
type pendingCall struct {
	entry *entryNode
	state interface{}
}

// lift removes entry and its matching return from the linked list —
// commits to linearizing this call next.
func lift(entry *entryNode) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	match := entry.match
	match.prev.next = match.next
	if match.next != nil {
		match.next.prev = match.prev
	}
}

// unlift reverses lift: splices entry and its return back into the
// list after a tentative linearization is abandoned.
func unlift(entry *entryNode) {
	match := entry.match
	match.prev.next = match
	if match.next != nil {
		match.next.prev = match
	}
	entry.prev.next = entry
	entry.next.prev = entry
}

// checkSingle is the Wing-Gong linearizability search over one
// partition: repeatedly try to commit the next pending call against
// the model, backtracking through the pendingCall stack whenever a
// branch dead-ends, until the list empties (linearizable) or kill
// fires (another partition already failed).
func checkSingle(model Model, subhistory *entryNode, kill *int32) bool {
	n := length(subhistory) / 2
	linearized := newBitset(n)
	cache := make(map[uint64][]cacheEntry)
	var pending []pendingCall

	state := model.Init()
	headEntry := insertBefore(&entryNode{id: ^uint(0)}, subhistory)
	entry := subhistory
	for headEntry.next != nil {
		if atomic.LoadInt32(kill) != 0 {
			return false
		}
		if entry.match != nil {
			matching := entry.match
			ok, newState := model.Step(state, entry.value, matching.value)
			if ok {
				newLinearized := linearized.clone().set(entry.id)
				newCacheEntry := cacheEntry{newLinearized, newState}
				if !cacheContains(model, cache, newCacheEntry) {
					hash := newLinearized.hash()
					cache[hash] = append(cache[hash], newCacheEntry)
					pending = append(pending, pendingCall{entry, state})
					state = newState
					linearized.set(entry.id)
					lift(entry)
					entry = headEntry.next
				} else {
					entry = entry.next
				}
			} else {
				entry = entry.next
			}
		} else {
			if len(pending) == 0 {
				return false
			}
			top := pending[len(pending)-1]
			entry = top.entry
			state = top.state
			linearized.clear(entry.id)
			pending = pending[:len(pending)-1]
			unlift(entry)
			entry = entry.next
		}
	}
	return true
}

func fillDefault(model Model) Model {
	if model.Partition == nil {
		model.Partition = NoPartition
	}
	if model.Equal == nil {
		model.Equal = ShallowEqual
	}
	return model
}

// CheckOperations reports whether history admits a linearization
// under model, with no timeout.
func CheckOperations(model Model, history []Operation) bool {
	return CheckOperationsTimeout(model, history, 0)
}

// CheckOperationsTimeout is CheckOperations bounded by timeout; hitting
// the timeout returns whatever partial verdict the search had reached,
// which can be a false positive — a genuine violation may simply not
// have been found yet.
func CheckOperationsTimeout(model Model, history []Operation, timeout time.Duration) bool {
	model = fillDefault(model)
	partitions := model.Partition(history)
	ok := true
	results := make(chan bool)
	kill := int32(0)
	for _, subhistory := range partitions {
		l := linkEntries(flatten(subhistory))
		go func() {
			results <- checkSingle(model, l, &kill)
		}()
	}
	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timeoutChan = time.After(timeout)
	}
	count := 0
loop:
	for {
		select {
		case result := <-results:
			ok = ok && result
			if !ok {
				atomic.StoreInt32(&kill, 1)
				break loop
			}
			count++
			if count >= len(partitions) {
				break loop
			}
		case <-timeoutChan:
			break loop
		}
	}
	return ok
}
