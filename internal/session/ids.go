package session

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/rs/xid"
)

const maxSlugLen = 24

// NewID returns a task ID: a slug of the goal (at most 24 characters)
// followed by a unique xid, e.g. "add-a-readme-cq1v2kq8e5f0".
func NewID(goal string) string {
	s := slug.Make(goal)
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "task"
	}
	return s + "-" + xid.New().String()
}
