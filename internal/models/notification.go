package models

import "time"

// NotificationType names an outbound result event.
type NotificationType string

const (
	NotificationResultFinalized NotificationType = "result.finalized"
	NotificationResultCritical  NotificationType = "result.critical"
	NotificationResultAmended   NotificationType = "result.amended"
)

// ResultNotification is published after a committed transition that downstream systems care about.
type ResultNotification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	ResultID   string           `json:"resultId"`
	TenantID   string           `json:"tenantId,omitempty"`
	PatientID  string           `json:"patientId"`
	TestID     string           `json:"testId"`
	Status     ResultStatus     `json:"status"`
	Flag       ResultFlag       `json:"flag"`
	Value      string           `json:"value"`
	Version    int64            `json:"version"`
	Actor      string           `json:"actor"`
	OccurredAt time.Time        `json:"occurredAt"`
}
