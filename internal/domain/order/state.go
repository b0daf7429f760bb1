package order

// PaymentState implements the state pattern for payment status transitions.
// Every transition also moves the fulfilment status where the payment outcome
// dictates one.
type PaymentState interface {
	Status() PaymentStatus
	OnCaptured(o *Order, captureID string) (PaymentState, error)
	OnCapturedShort(o *Order, captureID, note string) (PaymentState, error)
	OnReconciled(o *Order) (PaymentState, error)
	OnDeclined(o *Order, reason string) (PaymentState, error)
	OnRefunded(o *Order) (PaymentState, error)
}

func stateOf(o *Order) PaymentState {
	switch o.PaymentStatus {
	case PaymentPaid:
		return paidState{}
	case PaymentCompleted:
		return completedState{}
	case PaymentFailed:
		return failedState{}
	case PaymentRefunded:
		return refundedState{}
	default:
		return pendingState{}
	}
}

type pendingState struct{}

func (pendingState) Status() PaymentStatus { return PaymentPending }

func (pendingState) OnCaptured(o *Order, captureID string) (PaymentState, error) {
	if err := o.moveTo(StatusProcessing); err != nil {
		return nil, err
	}
	o.CaptureID = captureID
	return paidState{}, nil
}

func (pendingState) OnCapturedShort(o *Order, captureID, note string) (PaymentState, error) {
	if err := o.moveTo(StatusPending); err != nil {
		return nil, err
	}
	o.CaptureID = captureID
	o.AppendNote(note)
	return completedState{}, nil
}

func (pendingState) OnReconciled(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (pendingState) OnDeclined(o *Order, reason string) (PaymentState, error) {
	o.AppendNote("payment declined: " + reason)
	return failedState{}, nil
}

func (pendingState) OnRefunded(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

type paidState struct{}

func (paidState) Status() PaymentStatus { return PaymentPaid }

func (paidState) OnCaptured(*Order, string) (PaymentState, error) {
	return paidState{}, nil
}

func (paidState) OnCapturedShort(*Order, string, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (paidState) OnReconciled(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (paidState) OnDeclined(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (paidState) OnRefunded(o *Order) (PaymentState, error) {
	if err := o.moveTo(StatusCancelled); err != nil {
		return nil, err
	}
	return refundedState{}, nil
}

type completedState struct{}

func (completedState) Status() PaymentStatus { return PaymentCompleted }

func (completedState) OnCaptured(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnCapturedShort(o *Order, _ string, note string) (PaymentState, error) {
	o.AppendNote(note)
	return completedState{}, nil
}

func (completedState) OnReconciled(o *Order) (PaymentState, error) {
	if err := o.moveTo(StatusProcessing); err != nil {
		return nil, err
	}
	o.AppendNote("stock reconciled by operator")
	return paidState{}, nil
}

func (completedState) OnDeclined(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnRefunded(o *Order) (PaymentState, error) {
	if err := o.moveTo(StatusCancelled); err != nil {
		return nil, err
	}
	return refundedState{}, nil
}

type failedState struct{}

func (failedState) Status() PaymentStatus { return PaymentFailed }

func (failedState) OnCaptured(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (failedState) OnCapturedShort(*Order, string, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (failedState) OnReconciled(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (failedState) OnDeclined(o *Order, reason string) (PaymentState, error) {
	o.AppendNote("payment declined: " + reason)
	return failedState{}, nil
}

func (failedState) OnRefunded(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

type refundedState struct{}

func (refundedState) Status() PaymentStatus { return PaymentRefunded }

func (refundedState) OnCaptured(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (refundedState) OnCapturedShort(*Order, string, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (refundedState) OnReconciled(*Order) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (refundedState) OnDeclined(*Order, string) (PaymentState, error) {
	return nil, ErrInvalidStateTransition
}

func (refundedState) OnRefunded(*Order) (PaymentState, error) {
	return refundedState{}, nil
}

// PaymentCaptured records a successful capture whose stock was decremented.
func (o *Order) PaymentCaptured(captureID string) error {
	return o.apply(func(s PaymentState) (PaymentState, error) { return s.OnCaptured(o, captureID) })
}

// PaymentCapturedShort records a capture that could not be fulfilled; note lists the shortage.
func (o *Order) PaymentCapturedShort(captureID, note string) error {
	return o.apply(func(s PaymentState) (PaymentState, error) { return s.OnCapturedShort(o, captureID, note) })
}

// PaymentReconciled finishes a flagged order after an operator retry decremented stock.
func (o *Order) PaymentReconciled() error {
	return o.apply(func(s PaymentState) (PaymentState, error) { return s.OnReconciled(o) })
}

func (o *Order) PaymentDeclined(reason string) error {
	return o.apply(func(s PaymentState) (PaymentState, error) { return s.OnDeclined(o, reason) })
}

func (o *Order) PaymentRefunded() error {
	return o.apply(func(s PaymentState) (PaymentState, error) { return s.OnRefunded(o) })
}

// CancelUnpaid cancels an order whose payment never reached capture. The payment
// status is left as is.
func (o *Order) CancelUnpaid(reason string) error {
	if o.PaymentSettled() || o.PaymentStatus == PaymentRefunded {
		return ErrInvalidStateTransition
	}
	if err := o.moveTo(StatusCancelled); err != nil {
		return err
	}
	o.AppendNote(reason)
	return nil
}

func (o *Order) MarkShipped() error   { return o.moveTo(StatusShipped) }
func (o *Order) MarkDelivered() error { return o.moveTo(StatusDelivered) }

func (o *Order) apply(event func(PaymentState) (PaymentState, error)) error {
	next, err := event(stateOf(o))
	if err != nil {
		return err
	}
	o.PaymentStatus = next.Status()
	o.touch()
	return nil
}

var statusTransitions = map[Status][]Status{
	StatusCreated:    {StatusPending, StatusProcessing, StatusCancelled},
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusCancelled},
}

// moveTo advances the fulfilment status. Staying in place is allowed; going back is not.
func (o *Order) moveTo(next Status) error {
	if o.Status == next {
		return nil
	}
	for _, allowed := range statusTransitions[o.Status] {
		if allowed == next {
			o.Status = next
			o.touch()
			return nil
		}
	}
	return ErrInvalidStateTransition
}
