package entity

type DonationStatus string

const (
	StatusPending   DonationStatus = "pending"
	StatusCompleted DonationStatus = "completed"
	StatusFailed    DonationStatus = "failed"
	StatusRefunded  DonationStatus = "refunded"
	StatusExpired   DonationStatus = "expired"
)

func (s DonationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further provider event may move the donation
// when transitions are checked against the lattice.
func (s DonationStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusRefunded, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition implements the monotonic status lattice:
// pending may move anywhere, completed may only be refunded,
// failed/refunded/expired never move. Re-asserting the current status is allowed.
func CanTransition(from, to DonationStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to.Valid()
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}
