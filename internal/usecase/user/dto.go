package user

// CreateUserRequest represents the request payload for creating a new user.
type CreateUserRequest struct {
	Name  string `validate:"required"`
	Email string `validate:"required"`
}

// UpdateUserRequest represents a partial update. Nil fields are left unchanged.
// A non-zero IfMatch makes the update conditional on that version.
type UpdateUserRequest struct {
	ID      int64
	Name    *string
	Email   *string
	IfMatch int64
}

// DeleteUserRequest represents the request payload for deleting a user.
type DeleteUserRequest struct {
	ID      int64
	IfMatch int64
}

// GetUserRequest represents the request payload for retrieving a user.
type GetUserRequest struct {
	ID int64
}

// ListUsersRequest represents the request payload for listing users.
// A zero Limit selects the default page size. The HTTP layer sends zero
// only when the limit query parameter is absent and rejects an explicit
// limit below 1, so limit=0 over HTTP is a 422 while a direct caller gets
// the default.
type ListUsersRequest struct {
	Skip  int `validate:"gte=0"`
	Limit int `validate:"gte=0"`
	Name  string
}

// ListUsersResponse represents the response payload for user listing.
type ListUsersResponse struct {
	Users []User
	Skip  int
	Limit int
}

// User represents a user DTO for transport adapters.
type User struct {
	ID      int64
	Name    string
	Email   string
	Version int64
}
