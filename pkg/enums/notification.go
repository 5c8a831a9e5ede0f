package enums

// NotificationType tags a notification row. The column is free text, these are
// the values the backend itself writes.
type NotificationType string

const (
	NotificationTypeMessage       NotificationType = "message"
	NotificationTypeClaim         NotificationType = "claim"
	NotificationTypeClaimDecision NotificationType = "claim_decision"
	NotificationTypeSystem        NotificationType = "system"
)

func (n NotificationType) String() string {
	return string(n)
}
