package pipeline

// State is the stage of a swap attempt.
type State int

const (
	StateIdle State = iota
	StateQuoting
	StateBuilt
	StateSigned
	StateBlockhashRefreshed
	StateSimulated
	StateSubmitted
	StateConfirmed

	StateInsufficientBalance
	StateWalletNotConnected
	StateInvalidSlippage
	StateQuoteFailed
	StateBuildFailed
	StateSignRejected
	StateSimulationFailed
	StateSubmitFailed
	StateConfirmTimedOut
	StateConfirmFailed
	StateAbandoned
)

var stateNames = map[State]string{
	StateIdle:                "idle",
	StateQuoting:             "quoting",
	StateBuilt:               "built",
	StateSigned:              "signed",
	StateBlockhashRefreshed:  "blockhash_refreshed",
	StateSimulated:           "simulated",
	StateSubmitted:           "submitted",
	StateConfirmed:           "confirmed",
	StateInsufficientBalance: "insufficient_balance",
	StateWalletNotConnected:  "wallet_not_connected",
	StateInvalidSlippage:     "invalid_slippage",
	StateQuoteFailed:         "quote_failed",
	StateBuildFailed:         "build_failed",
	StateSignRejected:        "sign_rejected",
	StateSimulationFailed:    "simulation_failed",
	StateSubmitFailed:        "submit_failed",
	StateConfirmTimedOut:     "confirm_timed_out",
	StateConfirmFailed:       "confirm_failed",
	StateAbandoned:           "abandoned",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Failed reports whether s is a terminal failure.
func (s State) Failed() bool {
	return s.Terminal() && s != StateConfirmed
}

// progress is shown while an attempt sits in a non-terminal state.
var progress = map[State]string{
	StateQuoting:            "Fetching quote",
	StateBuilt:              "Waiting for signature",
	StateSigned:             "Refreshing blockhash",
	StateBlockhashRefreshed: "Simulating transaction",
	StateSimulated:          "Submitting transaction",
	StateSubmitted:          "Waiting for confirmation",
	StateConfirmed:          "Transaction confirmed",
}

var transitions = map[State][]State{
	StateIdle:               {StateQuoting, StateInsufficientBalance, StateWalletNotConnected, StateInvalidSlippage, StateAbandoned},
	StateQuoting:            {StateBuilt, StateQuoteFailed, StateBuildFailed, StateAbandoned},
	StateBuilt:              {StateSigned, StateSignRejected, StateAbandoned},
	StateSigned:             {StateBlockhashRefreshed, StateSignRejected, StateSubmitFailed},
	StateBlockhashRefreshed: {StateSimulated, StateSimulationFailed},
	StateSimulated:          {StateSubmitted, StateSubmitFailed},
	StateSubmitted:          {StateConfirmed, StateConfirmTimedOut, StateConfirmFailed},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
