package reconcile

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusDone            Status = "DONE"
	StatusFailed          Status = "FAILED"
	StatusDead            Status = "DEAD"
)

// IN_PROGRESS -> IN_PROGRESS is a reclaim after the lease ran out.
var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusInProgress: true},
	StatusInProgress:      {StatusInProgress: true, StatusDone: true, StatusFailed: true, StatusDead: true, StatusAwaitingPayment: true},
	StatusAwaitingPayment: {StatusInProgress: true},
	StatusFailed:          {StatusInProgress: true, StatusDead: true},
	StatusDone:            {},
	StatusDead:            {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDead
}
