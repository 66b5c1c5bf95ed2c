package models

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	ranked := []TripStatus{
		StatusPending, StatusSearching, StatusDriverFound,
		StatusDriverAccepted, StatusArrived, StatusInProgress, StatusCompleted,
	}
	for i, from := range ranked {
		for j, to := range ranked {
			if j <= i && CanTransition(from, to) {
				t.Errorf("backward move allowed: %s -> %s", from, to)
			}
			if CanTransition(from, to) && to.Rank() <= from.Rank() {
				t.Errorf("transition %s -> %s does not raise rank", from, to)
			}
		}
	}
}

func TestCancelReachableFromLiveStatesOnly(t *testing.T) {
	for _, from := range []TripStatus{StatusPending, StatusSearching, StatusDriverFound, StatusDriverAccepted, StatusArrived, StatusInProgress} {
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("cancel refused from %s", from)
		}
	}
	for _, from := range []TripStatus{StatusCompleted, StatusCancelled} {
		if CanTransition(from, StatusCancelled) {
			t.Errorf("cancel allowed from terminal %s", from)
		}
		for _, to := range []TripStatus{StatusSearching, StatusDriverAccepted, StatusInProgress, StatusCompleted} {
			if CanTransition(from, to) {
				t.Errorf("terminal %s allowed move to %s", from, to)
			}
		}
	}
}

func TestHasDriverMatchesClaimedStates(t *testing.T) {
	claimed := map[TripStatus]bool{
		StatusDriverAccepted: true,
		StatusArrived:        true,
		StatusInProgress:     true,
		StatusCompleted:      true,
	}
	for _, s := range []TripStatus{
		StatusPending, StatusSearching, StatusDriverFound,
		StatusDriverAccepted, StatusArrived, StatusInProgress,
		StatusCompleted, StatusCancelled,
	} {
		if HasDriver(s) != claimed[s] {
			t.Errorf("HasDriver(%s) = %v", s, HasDriver(s))
		}
	}
}
