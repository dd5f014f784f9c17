package user

import "time"

// Profile is the tenant-local projection of a global user, kept in the tenant
// partition so in-partition joins never cross schemas. Canonical fields are
// maintained by the user-directory sync; nothing here flows back to the
// global record.
type Profile struct {
	UserID      string    `json:"user_id"` // global user UUID, stable across partitions
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	SyncedAt    time.Time `json:"synced_at"`
}

// ProjectFrom refreshes the profile's canonical fields from the global record
// and reports whether anything changed.
func (p *Profile) ProjectFrom(u *User) bool {
	changed := false
	if p.Email != u.Email {
		p.Email = u.Email
		changed = true
	}
	if name := u.FullName(); p.DisplayName != name {
		p.DisplayName = name
		changed = true
	}
	return changed
}
