package runtime

import (
	"github.com/thenvoi/thenvoi-go/platform"
)

// Diff is the participant change between two roster snapshots.
type Diff struct {
	Joined []platform.Participant
	Left   []platform.Participant
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}

// Merge folds other into d. A participant that joined and then left within
// the merged window cancels out.
func (d *Diff) Merge(other Diff) {
	for _, p := range other.Joined {
		if removeParticipant(&d.Left, p.ID) {
			continue
		}
		if !containsParticipant(d.Joined, p.ID) {
			d.Joined = append(d.Joined, p)
		}
	}
	for _, p := range other.Left {
		if removeParticipant(&d.Joined, p.ID) {
			continue
		}
		if !containsParticipant(d.Left, p.ID) {
			d.Left = append(d.Left, p)
		}
	}
}

func containsParticipant(list []platform.Participant, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}

func removeParticipant(list *[]platform.Participant, id string) bool {
	for i, p := range *list {
		if p.ID == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// DiffRosters computes who joined and who left between two roster snapshots.
// The platform may resend full rosters rather than incremental changes; an
// unchanged roster produces an empty diff.
func DiffRosters(prev, curr []platform.Participant) Diff {
	prevSet := make(map[string]bool, len(prev))
	for _, p := range prev {
		prevSet[p.ID] = true
	}
	currSet := make(map[string]bool, len(curr))
	for _, p := range curr {
		currSet[p.ID] = true
	}

	var d Diff
	for _, p := range curr {
		if !prevSet[p.ID] {
			d.Joined = append(d.Joined, p)
		}
	}
	for _, p := range prev {
		if !currSet[p.ID] {
			d.Left = append(d.Left, p)
		}
	}
	return d
}

// Turn is one accumulated unit of work handed to the adapter: every message
// received for the room since the previous invocation, plus any pending
// participant diff. History is the room's full accumulated conversation
// including Messages, so an adapter can rebuild context without extra calls.
type Turn struct {
	RoomID   string
	Messages []platform.Message
	Diff     Diff
	History  []platform.Message
}

// Empty reports whether the turn carries neither messages nor a diff.
func (t Turn) Empty() bool {
	return len(t.Messages) == 0 && t.Diff.Empty()
}
