// Package provisional manages curator-proposed vocabulary terms that are
// not yet part of the compiled ontology. Terms are persisted through a
// storage.Backend and overlaid onto every published vocabulary snapshot.
package provisional

import (
	"errors"
	"fmt"
	"time"
)

// Role controls who may see a provisional term.
type Role string

const (
	RolePrivate Role = "private"
	RolePublic  Role = "public"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePrivate || r == RolePublic
}

// Term is a provisional vocabulary term.
type Term struct {
	ProvisionalID int64     `json:"provisionalID"`
	URI           string    `json:"uri"`
	ParentURI     string    `json:"parentURI"`
	Label         string    `json:"label"`
	Description   string    `json:"description,omitempty"`
	Explanation   string    `json:"explanation,omitempty"`
	Role          Role      `json:"role"`
	RemappedTo    string    `json:"remappedTo,omitempty"`
	Proposer      string    `json:"proposer,omitempty"`
	Created       time.Time `json:"created"`
	Modified      time.Time `json:"modified"`
}

// Actor is the curator performing a change.
type Actor struct {
	ID    string
	Admin bool
}

func (a Actor) canModify(t Term) bool {
	return a.Admin || (a.ID != "" && a.ID == t.Proposer)
}

// Request describes a new provisional term.
type Request struct {
	ParentURI   string `json:"parentURI"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Role        Role   `json:"role,omitempty"`
	RemappedTo  string `json:"remappedTo,omitempty"`
}

// Created is returned for a successfully added term.
type Created struct {
	ProvisionalID int64  `json:"provisionalID"`
	URI           string `json:"uri"`
}

// Delete outcome reasons.
const (
	ReasonNotLeaf      = "not leaf node"
	ReasonTermUsed     = "term is used"
	ReasonInHoldingBay = "term is used in holding bay"
	ReasonNoPermission = "insufficient permission"
	ReasonNotFound     = "not found"
)

// NotDeleted explains why one term of a batch was kept.
type NotDeleted struct {
	ID     int64  `json:"ID"`
	Reason string `json:"reason"`
}

// DeleteResult is the outcome of a batch delete. A batch may partially
// succeed.
type DeleteResult struct {
	Deleted    []int64      `json:"deleted"`
	NotDeleted []NotDeleted `json:"notDeleted"`
}

var (
	// ErrDuplicate is returned when the parent already has a term with the
	// same label.
	ErrDuplicate = errors.New("duplicate")

	// ErrNotFound is returned for an unknown provisional ID.
	ErrNotFound = errors.New("provisional term not found")

	// ErrImmutableField is returned when an update tries to change the URI
	// or parent of a term.
	ErrImmutableField = errors.New("uri and parentURI cannot change")

	// ErrUnknownParent is returned when no tree contains the parent URI.
	ErrUnknownParent = errors.New("parent term is not in any vocabulary tree")

	// ErrPermission is returned when the actor may not edit the term.
	ErrPermission = errors.New("insufficient permission")
)

func (r *Request) validate() error {
	if r.ParentURI == "" {
		return errors.New("parentURI is required")
	}
	if r.Label == "" {
		return errors.New("label is required")
	}
	if r.Role == "" {
		r.Role = RolePrivate
	}
	if !r.Role.Valid() {
		return fmt.Errorf("unknown role %q", r.Role)
	}
	return nil
}
