package billing

import "strings"

// Operation names a reconciliation operation
type Operation string

const (
	OperationSend          Operation = "send"
	OperationResend        Operation = "resend"
	OperationSync          Operation = "sync"
	OperationCancel        Operation = "cancel"
	OperationDestroy       Operation = "destroy"
	OperationOfflineSettle Operation = "offline_settle"
	OperationSplit         Operation = "split"
	OperationWebhook       Operation = "webhook"
)

// operationPreconditions lists the bill statuses each operation accepts.
// Send additionally accepts a charge with no bill at all.
var operationPreconditions = map[Operation][]RequestStatus{
	OperationSend:          {RequestStatusPending, RequestStatusFailed, RequestStatusDestroyed},
	OperationResend:        {RequestStatusSent},
	OperationSync:          {RequestStatusSent, RequestStatusPaid},
	OperationCancel:        {RequestStatusPaid},
	OperationDestroy:       {RequestStatusSent},
	OperationOfflineSettle: {RequestStatusCreated, RequestStatusSent},
}

// CheckPrecondition validates the charge's current bill against the
// operation's precondition. current is nil when the charge has never been billed.
func CheckPrecondition(op Operation, current *Bill) error {
	allowed, ok := operationPreconditions[op]
	if !ok {
		return nil
	}
	if current == nil {
		if op == OperationSend {
			return nil
		}
		return NewPreconditionFailed("cannot %s: charge has no bill", op)
	}
	for _, s := range allowed {
		if current.RequestStatus == s {
			return nil
		}
	}
	return NewPreconditionFailed("cannot %s: bill is %s (requires %s)", op, current.RequestStatus, joinStatuses(allowed))
}

func joinStatuses(statuses []RequestStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}
