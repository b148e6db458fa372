package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Webhook is a tenant-registered callback endpoint. Outbound deliveries are
// signed with the webhook's secret (see service.SignWebhookPayload).
type Webhook struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"-" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	URL         string    `json:"url" db:"url"`
	Events      EventList `json:"events" db:"events"`
	Secret      string    `json:"-" db:"secret"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EventList is the set of event names a webhook subscribes to. Stored as a
// comma-separated string.
type EventList []string

// Value implements driver.Valuer.
func (e EventList) Value() (driver.Value, error) {
	return strings.Join(e, ","), nil
}

// Scan implements sql.Scanner.
func (e *EventList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into EventList", src)
	}
	if raw == "" {
		*e = nil
		return nil
	}
	*e = strings.Split(raw, ",")
	return nil
}
