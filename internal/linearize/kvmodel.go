package linearize

// KvInput is one client operation against the store: a get or a put.
// append is dropped here — spec §3 only defines get and put — unlike
// the teacher's three-operation KvInput this models exactly the two
// kinds raftkv exposes.
type KvInput struct {
	Op    uint8 // 0 => get, 1 => put
	Key   string
	Value string
}

// KvOutput is the value a get returned, or the (unused) value field
// alongside an ok reply to a put.
type KvOutput struct {
	Value string
}

// KvModel is the Model used to check a recorded client history against
// spec §8's round-trip property: a put that returns ok followed by a
// get on the same key (absent an intervening put) returns the written
// value, and a get of a never-written key returns "".
func KvModel() Model {
	return Model{
		Partition: func(history []Operation) [][]Operation {
			byKey := make(map[string][]Operation)
			for _, op := range history {
				key := op.Input.(KvInput).Key
				byKey[key] = append(byKey[key], op)
			}
			var out [][]Operation
			for _, ops := range byKey {
				out = append(out, ops)
			}
			return out
		},
		Init: func() interface{} {
			return ""
		},
		Step: func(state, input, output interface{}) (bool, interface{}) {
			in := input.(KvInput)
			out := output.(KvOutput)
			st := state.(string)
			switch in.Op {
			case 0: // get
				return out.Value == st, state
			case 1: // put
				return true, in.Value
			default:
				return false, state
			}
		},
		Equal: ShallowEqual,
	}
}
