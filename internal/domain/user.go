package domain

import (
	"sort"
	"strings"
	"time"
)

// RoleAdmin is the label given to the seeded administrator account.
const RoleAdmin = "ADMIN"

// User represents an account of the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Roles        []string
	Department   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeRoles trims, deduplicates and sorts role labels. Empty labels are dropped.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
