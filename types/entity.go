// Package types holds value types shared by every tokenvault record.
package types

import "time"

// Entity carries the record timestamps embedded in every stored type.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both timestamps with the current UTC time.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt stamps both timestamps with now, normalized to UTC.
func NewEntityAt(now time.Time) Entity {
	now = now.UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch sets UpdatedAt to the current UTC time.
func (e *Entity) Touch() {
	e.TouchAt(time.Now())
}

// TouchAt sets UpdatedAt to now, normalized to UTC.
func (e *Entity) TouchAt(now time.Time) {
	e.UpdatedAt = now.UTC()
}
