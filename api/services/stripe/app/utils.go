package app

import (
	"time"

	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
)

// defaultPeriod is used when the processor omits period bounds on a new subscription.
const defaultPeriod = 30 * 24 * time.Hour

// localStatus projects a processor subscription status onto the ledger enum.
func localStatus(remote string) (stripedb.Status, bool) {
	switch remote {
	case gw.StatusActive, gw.StatusTrialing:
		return stripedb.StatusActive, true
	case gw.StatusPastDue, gw.StatusUnpaid, gw.StatusPaused:
		return stripedb.StatusPastDue, true
	case gw.StatusCanceled, gw.StatusIncompleteExpired:
		return stripedb.StatusCanceled, true
	case gw.StatusIncomplete:
		return stripedb.StatusIncomplete, true
	}
	return "", false
}

// forwardTransitions is the subscription state machine:
// incomplete -> active -> canceled, active <-> past_due -> canceled.
var forwardTransitions = map[stripedb.Status][]stripedb.Status{
	stripedb.StatusIncomplete: {stripedb.StatusActive, stripedb.StatusPastDue, stripedb.StatusCanceled},
	stripedb.StatusActive:     {stripedb.StatusPastDue, stripedb.StatusCanceled},
	stripedb.StatusPastDue:    {stripedb.StatusActive, stripedb.StatusCanceled},
	stripedb.StatusCanceled:   nil,
}

// isForward reports whether from -> to follows the state machine. Repeating
// the current status counts as forward.
func isForward(from, to stripedb.Status) bool {
	if from == to {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
