package model

import "time"

// StatusChange is the audit record appended by every committed transition.
type StatusChange struct {
	ID        uint64    `json:"id"`         // status_changes.id
	Entity    EntityRef `json:"entity"`     // status_changes.entity_kind / entity_id
	OldStatus string    `json:"old_status"` // status_changes.old_status
	NewStatus string    `json:"new_status"` // status_changes.new_status
	Actor     string    `json:"actor"`      // status_changes.actor
	CreatedAt time.Time `json:"created_at"` // status_changes.created_at
}
