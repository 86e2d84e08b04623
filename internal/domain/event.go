package domain

// Event types emitted by the contract and the chain.
const (
	EventOracleChanged   = "oracle_changed"
	EventPriceUpdated    = "price_updated"
	EventDeposited       = "deposited"
	EventOptionCreated   = "option_created"
	EventOptionExercised = "option_exercised"
	EventOptionExpired   = "option_expired"
	EventInvariantBroken = "invariant_broken"
	EventBlockMined      = "block_mined"
	EventChainHalted     = "chain_halted"
)

// Event is a structured notification produced while applying a call or a
// block boundary.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent builds an event from alternating key/value pairs.
func NewEvent(typ string, kv ...string) Event {
	e := Event{Type: typ}
	if len(kv) > 0 {
		e.Attributes = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Attributes[kv[i]] = kv[i+1]
		}
	}
	return e
}
