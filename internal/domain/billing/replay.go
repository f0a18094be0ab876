package billing

import "sort"

// ReplayBillStatus rebuilds a bill's status from its events. Applied
// gateway-sourced events are folded with the same rank rules as live
// deliveries; operation events are authoritative. The result is what the bill's status should be if
// the stored row has drifted.
func ReplayBillStatus(events []*Event) RequestStatus {
	ordered := make([]*Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})

	scratch := &Bill{RequestStatus: RequestStatusPending}
	for _, e := range ordered {
		if !e.ToStatus.IsValid() {
			continue
		}
		if e.Source == EventSourceWebhook || e.Operation == OperationSync {
			if !e.Applied {
				continue
			}
			state, ok := approvalFor(e.ToStatus)
			if !ok {
				continue
			}
			scratch.ApplyApproval(ApprovalObservation{
				State:      state,
				ApprovedAt: e.OccurredAt,
				ReceivedAt: e.ReceivedAt,
			})
			continue
		}
		if e.Applied {
			scratch.transition(e.ToStatus, e.ReceivedAt)
		}
	}
	return scratch.RequestStatus
}

func approvalFor(status RequestStatus) (ApprovalState, bool) {
	for state, m := range approvalTable {
		if m.request == status {
			return state, true
		}
	}
	return "", false
}
