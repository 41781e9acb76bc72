package enums

import "slices"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrder   NotificationType = "ORDER"
	NotificationTypePayment NotificationType = "PAYMENT"
	NotificationTypeEscrow  NotificationType = "ESCROW"
	NotificationTypeDispute NotificationType = "DISPUTE"
	NotificationTypeRefund  NotificationType = "REFUND"
	NotificationTypeSystem  NotificationType = "SYSTEM"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrder,
	NotificationTypePayment,
	NotificationTypeEscrow,
	NotificationTypeDispute,
	NotificationTypeRefund,
	NotificationTypeSystem,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	return slices.Contains(validNotificationTypes, n)
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	return parse(validNotificationTypes, value, "notification type")
}
