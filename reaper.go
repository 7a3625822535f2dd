package ajp

import "time"

// LeaseReaper picks the leases that have expired.
// Implementations must return a new slice.
type LeaseReaper[C Connection] interface {
	Harvest(leases []*Lease[C], now time.Time) []*Lease[C]
}

// FullPassReaper checks every lease.
type FullPassReaper[C Connection] struct{}

// Harvest returns all expired leases.
func (FullPassReaper[C]) Harvest(leases []*Lease[C], now time.Time) (expired []*Lease[C]) {
	for _, l := range leases {
		if l.Expired(now) {
			expired = append(expired, l)
		}
	}
	return
}

// HeadSamplingReaper relies on leases being kept in grant order, so the
// oldest are first. It stops at the first lease that has not expired,
// which makes it cheap with many leases but may miss short leases
// granted after long ones.
type HeadSamplingReaper[C Connection] struct{}

// Harvest returns the expired leases at the head of the list.
func (HeadSamplingReaper[C]) Harvest(leases []*Lease[C], now time.Time) (expired []*Lease[C]) {
	for _, l := range leases {
		if !l.Expired(now) {
			break
		}
		expired = append(expired, l)
	}
	return
}
