package models

import (
	"regexp"
	"strings"
	"time"
)

// Department is a reference entry used to scope users and assignments.
type Department struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

var (
	slugSpaces  = regexp.MustCompile(`\s+`)
	slugInvalid = regexp.MustCompile(`[^\w-]+`)
)

// DepartmentSlug derives the unique slug for a department name.
func DepartmentSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugSpaces.ReplaceAllString(slug, "_")
	return slugInvalid.ReplaceAllString(slug, "")
}

// UnknownDepartment is rendered for references that no longer resolve.
const UnknownDepartment = "N/A"
