package linearize

// Operation is one get/put call made against the cluster: the request
// input, the invocation and response timestamps observed by the
// caller, and the value the call actually returned. CheckOperations
// replays a recorded slice of these against a Model to decide whether
// some total order of the calls is consistent with every value
// returned.
type Operation struct {
	Input  interface{} // request passed to the call, e.g. KvInput
	Call   int64       // time the caller issued the request
	Output interface{} // response the call returned, e.g. KvOutput
	Return int64       // time the caller observed the response
}

// Model describes the sequential semantics CheckOperations checks a
// recorded history against: how to split it into independently
// checkable partitions, the state a fresh replica starts in, and how
// one operation's input/output transitions that state.
type Model struct {
	// Partition splits history into slices that must each be
	// linearizable on their own for the whole history to be — e.g.
	// KvModel partitions by key, since operations on different keys
	// can never constrain each other's ordering.
	Partition func(history []Operation) [][]Operation

	// Init returns the state a fresh state machine starts in.
	Init func() interface{}

	// Step reports whether applying input against state is consistent
	// with the observed output, and if so the resulting state. It
	// must not mutate state.
	Step func(state, input, output interface{}) (bool, interface{})

	// Equal compares two states for the checker's memoization cache.
	Equal func(state1, state2 interface{}) bool
}

// NoPartition treats the whole history as a single partition.
func NoPartition(history []Operation) [][]Operation {
	return [][]Operation{history}
}

// ShallowEqual compares states with ==, which is enough for KvModel's
// string-keyed state.
func ShallowEqual(state1, state2 interface{}) bool {
	return state1 == state2
}
