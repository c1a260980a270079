package domain

// TransitionSource names the operation driving a status change.
type TransitionSource string

const (
	SourceManual     TransitionSource = "manual"
	SourceApproval   TransitionSource = "approval"
	SourceScheduling TransitionSource = "scheduling"
	SourceSweep      TransitionSource = "sweep"
)

type transitionRule struct {
	to      TicketStatus
	sources []TransitionSource
}

var allowedTransitions = map[TicketStatus][]transitionRule{
	TicketStatusOpen: {
		{to: TicketStatusInProgress, sources: []TransitionSource{SourceManual}},
		{to: TicketStatusScheduled, sources: []TransitionSource{SourceScheduling}},
		{to: TicketStatusClosed, sources: []TransitionSource{SourceManual}},
	},
	TicketStatusPendingApproval: {
		{to: TicketStatusOpen, sources: []TransitionSource{SourceApproval}},
		{to: TicketStatusScheduled, sources: []TransitionSource{SourceApproval}},
		{to: TicketStatusRejected, sources: []TransitionSource{SourceApproval}},
	},
	TicketStatusScheduled: {
		{to: TicketStatusOpen, sources: []TransitionSource{SourceManual, SourceSweep, SourceScheduling}},
		{to: TicketStatusInProgress, sources: []TransitionSource{SourceManual, SourceSweep}},
	},
	TicketStatusInProgress: {
		{to: TicketStatusResolved, sources: []TransitionSource{SourceManual}},
		{to: TicketStatusClosed, sources: []TransitionSource{SourceManual}},
	},
	TicketStatusResolved: {
		{to: TicketStatusClosed, sources: []TransitionSource{SourceManual}},
	},
	TicketStatusClosed:   {},
	TicketStatusRejected: {},
}

// CanTransition reports whether source may move a ticket from current to next.
func CanTransition(current, next TicketStatus, source TransitionSource) bool {
	for _, rule := range allowedTransitions[current] {
		if rule.to != next {
			continue
		}
		for _, s := range rule.sources {
			if s == source {
				return true
			}
		}
	}
	return false
}

// NextStatuses lists the statuses source may reach from current.
func NextStatuses(current TicketStatus, source TransitionSource) []TicketStatus {
	var result []TicketStatus
	for _, rule := range allowedTransitions[current] {
		for _, s := range rule.sources {
			if s == source {
				result = append(result, rule.to)
				break
			}
		}
	}
	return result
}
