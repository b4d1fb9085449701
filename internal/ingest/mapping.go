// Package ingest turns uploaded materials and labor spreadsheets into
// pricing line items, guided by a column-role mapping.
package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind names which spreadsheet a mapping applies to.
type Kind string

const (
	KindMaterials Kind = "materials"
	KindLabor     Kind = "labor"
)

// Role is the meaning of a spreadsheet column.
type Role string

const (
	RoleName       Role = "name"
	RoleUnit       Role = "unit"
	RoleUnitCost   Role = "unit_cost"
	RoleQuantity   Role = "quantity"
	RoleBundle     Role = "bundle"
	RoleCategory   Role = "category"
	RoleTask       Role = "task"
	RoleHours      Role = "hours"
	RoleHourlyRate Role = "hourly_rate"
)

var (
	ErrUnknownKind   = errors.New("unknown spreadsheet kind")
	ErrUnknownRole   = errors.New("unknown column role")
	ErrMissingColumn = errors.New("missing column")
)

// MissingColumnError reports a role whose column is not in the uploaded file.
type MissingColumnError struct {
	Kind   Kind
	Role   Role
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s file: column %q for %s not found", e.Kind, e.Column, e.Role)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// Roles returns every role a spreadsheet of this kind may map.
func (k Kind) Roles() []Role {
	switch k {
	case KindMaterials:
		return []Role{RoleName, RoleUnit, RoleUnitCost, RoleQuantity, RoleBundle, RoleCategory}
	case KindLabor:
		return []Role{RoleTask, RoleHours, RoleHourlyRate, RoleCategory}
	default:
		return nil
	}
}

// Required returns the roles a spreadsheet of this kind cannot be priced without.
func (k Kind) Required() []Role {
	switch k {
	case KindMaterials:
		return []Role{RoleName, RoleUnitCost, RoleQuantity}
	case KindLabor:
		return []Role{RoleTask, RoleHours, RoleHourlyRate}
	default:
		return nil
	}
}

func (k Kind) valid() bool {
	return k == KindMaterials || k == KindLabor
}

func (k Kind) has(r Role) bool {
	for _, candidate := range k.Roles() {
		if candidate == r {
			return true
		}
	}
	return false
}

func knownRole(r Role) bool {
	return KindMaterials.has(r) || KindLabor.has(r)
}

// Mapping maps a role to the source column that carries it.
type Mapping map[Role]string

// ParseMapping accepts the detector's "column -> role" object. Roles that
// belong to the other kind are dropped, roles that exist nowhere are an
// error. When two columns claim the same role the first in sorted column
// order wins.
func ParseMapping(kind Kind, raw map[string]string) (Mapping, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	columns := make([]string, 0, len(raw))
	for column := range raw {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	m := Mapping{}
	for _, column := range columns {
		role := Role(strings.ToLower(strings.TrimSpace(raw[column])))
		switch role {
		case "", "ignore", "none", "other", "unused":
			continue
		}
		if !knownRole(role) {
			return nil, fmt.Errorf("%w: %q for column %q", ErrUnknownRole, role, column)
		}
		if !kind.has(role) {
			continue
		}
		if _, taken := m[role]; taken {
			continue
		}
		m[role] = column
	}
	return m, nil
}

// Column returns the source column for a role. Unmapped roles fall back to
// a column named after the role.
func (m Mapping) Column(r Role) string {
	if column, ok := m[r]; ok && column != "" {
		return column
	}
	return string(r)
}

// Validate checks the mapping against the file's headers. Every required
// role must resolve to a header, and every explicitly mapped role must
// point at one.
func (m Mapping) Validate(kind Kind, headers []string) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	for _, r := range kind.Required() {
		if column := m.Column(r); !present[column] {
			return &MissingColumnError{Kind: kind, Role: r, Column: column}
		}
	}
	for _, r := range kind.Roles() {
		column, mapped := m[r]
		if mapped && column != "" && !present[column] {
			return &MissingColumnError{Kind: kind, Role: r, Column: column}
		}
	}
	return nil
}
