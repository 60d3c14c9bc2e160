package user

// User represents a user entity in the system.
type User struct {
	ID      int64  // ID is assigned by the store and never changes
	Name    string // Name is the display name of the user
	Email   string // Email is unique across all users
	Version int64  // Version is incremented by every write
}

// Changes holds the fields an update should modify. A nil field is left unchanged.
type Changes struct {
	Name  *string
	Email *string
}

// IsEmpty reports whether no field was supplied.
func (c Changes) IsEmpty() bool {
	return c.Name == nil && c.Email == nil
}

// Apply returns a copy of u with the supplied fields replaced.
func (c Changes) Apply(u User) User {
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	return u
}
