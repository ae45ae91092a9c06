package service

import (
	"sort"

	"github.com/iliyamo/studio-reservations/internal/model"
)

// rebalance promotes waitlisted reservations into free capacity and then
// renumbers the remaining waitlist 1..n.  Promotion is strictly in position
// order: the first entry that does not fit stops it, even if a later, smaller
// one would.  rs is modified in place; the returned slices hold indices into
// rs of promoted entries and of every entry that changed (promoted ones
// included).
func rebalance(capacity uint32, rs []model.Reservation) (promoted, changed []int) {
	booked := model.BookedSeats(rs)
	var free uint32
	if capacity > booked {
		free = capacity - booked
	}

	queue := waitlistOrder(rs)
	i := 0
	for ; i < len(queue); i++ {
		r := &rs[queue[i]]
		if r.Quantity > free {
			break
		}
		free -= r.Quantity
		r.Status = model.ReservationConfirmed
		r.WaitlistPosition = nil
		promoted = append(promoted, queue[i])
	}
	changed = append(changed, promoted...)

	for n, idx := range queue[i:] {
		pos := uint32(n + 1)
		r := &rs[idx]
		if r.WaitlistPosition != nil && *r.WaitlistPosition == pos {
			continue
		}
		r.WaitlistPosition = &pos
		changed = append(changed, idx)
	}
	return promoted, changed
}

// waitlistOrder returns the indices of waitlisted reservations ordered by
// position, ties broken by id.
func waitlistOrder(rs []model.Reservation) []int {
	var idx []int
	for i := range rs {
		if rs[i].Status == model.ReservationWaitlist {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := &rs[idx[a]], &rs[idx[b]]
		pa, pb := position(ra), position(rb)
		if pa != pb {
			return pa < pb
		}
		return ra.ID < rb.ID
	})
	return idx
}

func position(r *model.Reservation) uint32 {
	if r.WaitlistPosition == nil {
		return ^uint32(0)
	}
	return *r.WaitlistPosition
}

func waitlistLength(rs []model.Reservation) int {
	n := 0
	for i := range rs {
		if rs[i].Status == model.ReservationWaitlist {
			n++
		}
	}
	return n
}
