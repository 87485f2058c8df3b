package order

import (
	"slices"
	"strings"
	"time"
)

// transitions is the only copy of the order status graph. A missing edge is an
// illegal transition; statuses mapping to an empty set are terminal.
var transitions = map[Status][]Status{
	StatusOrderPlaced:     {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:  {StatusPaymentReceived, StatusCancelled},
	StatusPaymentReceived: {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery:  {StatusDelivered, StatusCancelled},
	StatusDelivered:       {StatusReturnRequested},
	StatusCancelled:       {},
	StatusReturnRequested: {StatusReturnApproved, StatusReturnRejected},
	StatusReturnApproved:  {StatusReturnCompleted, StatusRefundInitiated},
	StatusReturnRejected:  {},
	StatusReturnCompleted: {StatusRefundInitiated},
	StatusRefundInitiated: {StatusRefundCompleted},
	StatusRefundCompleted: {},
}

// cancellableStatuses are the statuses the cancellation workflow accepts.
var cancellableStatuses = []Status{
	StatusOrderPlaced,
	StatusPaymentPending,
	StatusPaymentReceived,
}

// unshippedStatuses still hold reserved stock in the warehouse.
var unshippedStatuses = []Status{
	StatusOrderPlaced,
	StatusPaymentPending,
	StatusPaymentReceived,
	StatusProcessing,
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// NextStatuses returns a copy of the legal targets from the given status.
func NextStatuses(from Status) []Status {
	return slices.Clone(transitions[from])
}

func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func IsCancellable(s Status) bool {
	return slices.Contains(cancellableStatuses, s)
}

func holdsStock(s Status) bool {
	return slices.Contains(unshippedStatuses, s)
}

// TransitionRequest carries the inputs of a single status change.
type TransitionRequest struct {
	Target      Status
	ActorID     string
	Note        *string
	TrackingID  string
	Courier     string
	TrackingURL *string
}

// ApplyTransition validates req against the order's current status and, when
// legal, applies the status side effects and appends one history entry.
// Nothing on o is touched when an error is returned.
func ApplyTransition(o *Order, req TransitionRequest, now time.Time) (StatusChange, error) {
	from := o.CurrentStatus()
	if !CanTransition(from, req.Target) {
		return StatusChange{}, &InvalidTransitionError{From: from, To: req.Target}
	}

	trackingID := strings.TrimSpace(req.TrackingID)
	courier := strings.TrimSpace(req.Courier)
	if req.Target == StatusShipped && (trackingID == "" || courier == "") {
		return StatusChange{}, ErrMissingTrackingInfo
	}

	switch req.Target {
	case StatusPaymentReceived:
		o.PaymentStatus = PaymentStatusCompleted
	case StatusShipped:
		o.TrackingNumber = &trackingID
		o.TrackingCompany = &courier
		if req.TrackingURL != nil {
			o.TrackingURL = req.TrackingURL
		}
	case StatusCancelled:
		if o.PaymentStatus == PaymentStatusCompleted {
			o.PaymentStatus = PaymentStatusRefunded
		}
	}

	change := StatusChange{
		Seq:       len(o.StatusHistory) + 1,
		Status:    req.Target,
		ChangedAt: now,
		ChangedBy: req.ActorID,
		Note:      req.Note,
	}
	o.StatusHistory = append(o.StatusHistory, change)
	o.UpdatedAt = now

	return change, nil
}

// initialStatus seeds the history of a freshly created order.
func initialStatus(actorID string, now time.Time) StatusChange {
	return StatusChange{
		Seq:       1,
		Status:    StatusOrderPlaced,
		ChangedAt: now,
		ChangedBy: actorID,
	}
}
