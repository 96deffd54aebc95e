package session

// State is a session's position in the attention-mining state machine.
//
//	IDLE → INITIALIZING → HOUSE_ADS → ACTIVE_LOOP → MINING_AD
//	     → ANTI_AFK → RESUMING → CLAIMING → (ACTIVE_LOOP | COMPLETED)
//
// IDLE is initial; COMPLETED is terminal and triggers teardown. A
// rejected claim routes the session back to IDLE without touching the
// yield already credited.
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StateHouseAds     State = "HOUSE_ADS"
	StateActiveLoop   State = "ACTIVE_LOOP"
	StateMiningAd     State = "MINING_AD"
	StateAntiAFK      State = "ANTI_AFK"
	StateResuming     State = "RESUMING"
	StateClaiming     State = "CLAIMING"
	StateCompleted    State = "COMPLETED"
)

// checkpointAllowed reports whether a checkpoint may be attempted from
// the given state.
//
// ACTIVE_LOOP and RESUMING are the two legitimate entry points: a
// presentation layer that reports every transition claims from
// RESUMING, a thinner one claims straight from the loop. IDLE is
// allowed so a caller can retry after a speed-limit rejection routed
// the session there. MINING_AD and ANTI_AFK are refused - the
// human-presence acknowledgment cannot be skipped once an ad break has
// been reported - and HOUSE_ADS is refused until the entry toll is paid.
func checkpointAllowed(s State) bool {
	switch s {
	case StateActiveLoop, StateResuming, StateClaiming, StateIdle:
		return true
	default:
		return false
	}
}
