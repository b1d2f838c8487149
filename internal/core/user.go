package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// User is a login role. Passwords are stored as hex-encoded SHA-256 hashes.
type User struct {
	Username      string
	PasswordHash  string
	IsSuperuser   bool
	CanCreateDB   bool
	CanCreateUser bool
	Roles         map[string]bool
}

// NewUser builds a user. Superusers implicitly get the create rights.
func NewUser(username, password string, superuser bool) *User {
	return &User{
		Username:      username,
		PasswordHash:  HashPassword(password),
		IsSuperuser:   superuser,
		CanCreateDB:   superuser,
		CanCreateUser: superuser,
		Roles:         make(map[string]bool),
	}
}

// HashPassword hashes a cleartext password with SHA-256.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a cleartext password against the stored hash.
func (u *User) VerifyPassword(password string) bool {
	return u.PasswordHash == HashPassword(password)
}

// SetPassword replaces the stored hash.
func (u *User) SetPassword(password string) {
	u.PasswordHash = HashPassword(password)
}

// AddRole records membership in role.
func (u *User) AddRole(role string) {
	if u.Roles == nil {
		u.Roles = make(map[string]bool)
	}
	u.Roles[role] = true
}

// RemoveRole drops membership in role.
func (u *User) RemoveRole(role string) { delete(u.Roles, role) }

// HasRole reports direct membership in role.
func (u *User) HasRole(role string) bool {
	return u.Roles[role]
}

// Role is a named group. Roles can contain users (Members) and inherit from
// parent roles; the parent relation forms a DAG.
type Role struct {
	Name    string
	Members map[string]bool
	Parents map[string]bool
}

// NewRole builds an empty role.
func NewRole(name string) *Role {
	return &Role{
		Name:    name,
		Members: make(map[string]bool),
		Parents: make(map[string]bool),
	}
}

// AddMember records username as a member.
func (r *Role) AddMember(username string) { r.Members[username] = true }

// RemoveMember drops username.
func (r *Role) RemoveMember(username string) { delete(r.Members, username) }

// AddParent records inheritance from parent.
func (r *Role) AddParent(parent string) { r.Parents[parent] = true }
