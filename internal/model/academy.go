package model

import "time"

// Academy is the tenant that owns class templates, sessions and tickets.
// Administrative operations on any of those resources are allowed only
// for the academy owner.
//
// Fields:
//  ID               – primary key identifier.
//  Name             – display name.
//  OwnerID          – user who administers the academy.
//  MaxExtensionDays – upper bound for a single ticket extension, nil when
//                     extensions are unlimited.
//  CreatedAt        – creation timestamp.
type Academy struct {
	ID               uint64    `json:"id"`                           // academies.id
	Name             string    `json:"name"`                         // academies.name
	OwnerID          uint64    `json:"owner_id"`                     // academies.owner_id
	MaxExtensionDays *int      `json:"max_extension_days,omitempty"` // academies.max_extension_days (nullable)
	CreatedAt        time.Time `json:"created_at"`                   // academies.created_at
}
