package domain

// Roles carried in the bearer token. Owners use any non-admin role.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
