package streak

import "github.com/vault-streak/internal/types"

// milestones is the ascending ladder of streak lengths that gate reward states
var milestones = [...]int{1, 3, 7, 14, 30, 60, 90}

// Milestones returns the milestone ladder
func Milestones() []int {
	out := make([]int, len(milestones))
	copy(out, milestones[:])
	return out
}

// TopMilestone returns the last milestone on the ladder
func TopMilestone() int {
	return milestones[len(milestones)-1]
}

// NextMilestone returns the smallest milestone strictly greater than current.
// Past the top of the ladder it returns current itself.
func NextMilestone(current int) int {
	for _, m := range milestones {
		if m > current {
			return m
		}
	}
	return current
}

// PreviousMilestone returns the largest milestone not above current, or 0
func PreviousMilestone(current int) int {
	previous := 0
	for _, m := range milestones {
		if m <= current {
			previous = m
		}
	}
	return previous
}

// Progress computes progress from the previous milestone toward the next one.
// Once the top milestone is reached the progress is reported as complete.
func Progress(current int) types.MilestoneProgress {
	previous := PreviousMilestone(current)
	next := NextMilestone(current)

	if current >= TopMilestone() {
		return types.MilestoneProgress{
			Current:    current,
			Previous:   previous,
			Next:       next,
			Percent:    100,
			MaxReached: true,
		}
	}

	span := next - previous
	if span < 1 {
		span = 1
	}

	percent := float64(current-previous) / float64(span) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return types.MilestoneProgress{
		Current:  current,
		Previous: previous,
		Next:     next,
		Percent:  percent,
	}
}
