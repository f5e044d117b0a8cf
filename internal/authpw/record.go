package authpw

import (
	"formvault/api/internal/docstore"
)

// Record is an account as stored in an auth collection.
type Record struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    string
	UpdatedAt    string
}

// User is the public view of a Record.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func recordFromEntry(entry docstore.Entry) Record {
	str := func(field string) string {
		v, _ := entry[field].(string)
		return v
	}
	id, _ := entry.ID("id")
	record := Record{
		ID:           id,
		Email:        str("email"),
		Name:         str("name"),
		PasswordHash: str("passwordHash"),
		Role:         str("role"),
		CreatedAt:    str("createdAt"),
		UpdatedAt:    str("updatedAt"),
	}
	// Records written before the flag existed count as active.
	record.IsActive = true
	if active, ok := entry["isActive"].(bool); ok {
		record.IsActive = active
	}
	return record
}

func (r Record) entry() docstore.Entry {
	entry := docstore.Entry{
		"id":           r.ID,
		"email":        r.Email,
		"name":         r.Name,
		"passwordHash": r.PasswordHash,
		"role":         r.Role,
		"isActive":     r.IsActive,
		"createdAt":    r.CreatedAt,
	}
	if r.UpdatedAt != "" {
		entry["updatedAt"] = r.UpdatedAt
	}
	return entry
}

func (r Record) user() User {
	return User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Role:      r.Role,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
