package domain

var chequeTransitions = map[ChequeStatus][]ChequeStatus{
	ChequeStatusIssued:    {ChequeStatusInTransit, ChequeStatusDeposited, ChequeStatusCancelled},
	ChequeStatusInTransit: {ChequeStatusDeposited},
	ChequeStatusDeposited: {ChequeStatusReceived, ChequeStatusDisputed},
	// A disputed chèque only closes through dispute resolution.
	ChequeStatusDisputed: {ChequeStatusReceived},
}

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:      {DisputeStatusProposed, DisputeStatusEscalated, DisputeStatusRejected},
	DisputeStatusProposed:  {DisputeStatusProposed, DisputeStatusResolved, DisputeStatusEscalated, DisputeStatusRejected},
	DisputeStatusEscalated: {DisputeStatusRejected},
}

func (s ChequeStatus) Valid() bool {
	switch s {
	case ChequeStatusIssued, ChequeStatusInTransit, ChequeStatusDeposited,
		ChequeStatusReceived, ChequeStatusDisputed, ChequeStatusCancelled:
		return true
	}
	return false
}

func (s ChequeStatus) CanTransitionTo(next ChequeStatus) bool {
	for _, allowed := range chequeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ChequeStatus) IsTerminal() bool {
	return len(chequeTransitions[s]) == 0
}

// Pending reports whether the chèque still expects a physical movement.
func (s ChequeStatus) Pending() bool {
	return s == ChequeStatusIssued || s == ChequeStatusInTransit || s == ChequeStatusDeposited
}

func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusProposed, DisputeStatusResolved,
		DisputeStatusEscalated, DisputeStatusRejected:
		return true
	}
	return false
}

func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	for _, allowed := range disputeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}
