package clean

import (
	"sort"
	"time"
)

// touchpoint is the shared shape the visit and pharmacy streams reduce to
// for deduplication and return-date imputation. idx points back at the
// source row so stream-specific payload survives the pass; sig is a
// stream-supplied payload signature so ties never resolve by input order.
type touchpoint struct {
	key    string
	anchor time.Time
	ret    *time.Time // sanitized expected return, nil when missing
	sig    string
	idx    int

	resolved time.Time // imputed NAD
	flag     int
}

// dedupTouchpoints collapses rows sharing (key, anchor) down to the row with
// the latest non-null expected return. The sort makes the result independent
// of input order: ties on the return date resolve by payload signature.
func dedupTouchpoints(events []touchpoint) []touchpoint {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.key != b.key {
			return a.key < b.key
		}
		if !a.anchor.Equal(b.anchor) {
			return a.anchor.Before(b.anchor)
		}
		// latest non-null return first
		switch {
		case a.ret == nil && b.ret != nil:
			return false
		case a.ret != nil && b.ret == nil:
			return true
		case a.ret != nil && b.ret != nil && !a.ret.Equal(*b.ret):
			return a.ret.After(*b.ret)
		}
		if a.sig != b.sig {
			return a.sig < b.sig
		}
		return a.idx < b.idx
	})

	out := events[:0]
	for i, ev := range events {
		if i > 0 && ev.key == events[i-1].key && ev.anchor.Equal(events[i-1].anchor) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// discretizeGap snaps an observed anchor-to-return gap onto the typical
// scheduling intervals used by the program.
func discretizeGap(days int) int {
	switch {
	case days < 45:
		return 30
	case days < 75:
		return 60
	case days < 105:
		return 90
	case days < 150:
		return 120
	case days < 200:
		return 180
	default:
		return 30
	}
}

// imputeReturnDates resolves every touchpoint's expected return. Each
// patient's touchpoints are scanned most-recent-first; a missing return is
// filled with the anchor plus the discretized gap observed at the
// touchpoint processed immediately before it (i.e. the next-later contact),
// falling back to 30 days when no observed gap is available yet. Only
// observed gaps update the carry, so imputations never compound.
func imputeReturnDates(events []touchpoint) []touchpoint {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.key != b.key {
			return a.key < b.key
		}
		return a.anchor.After(b.anchor)
	})

	carry := 0
	carryOK := false
	for i := range events {
		if i == 0 || events[i].key != events[i-1].key {
			carry, carryOK = 0, false
		}
		ev := &events[i]
		if ev.ret != nil {
			ev.resolved = *ev.ret
			ev.flag = 0
			carry = discretizeGap(daysBetween(ev.anchor, *ev.ret))
			carryOK = true
			continue
		}
		gap := 30
		if carryOK {
			gap = carry
		}
		ev.resolved = addDays(ev.anchor, gap)
		ev.flag = 1
	}
	return events
}
