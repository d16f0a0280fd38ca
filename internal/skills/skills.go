// Package skills holds the built-in Go skills.
package skills

import (
	"context"
	"errors"

	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/spec"
)

const (
	LateBiteID     = "late_bite"
	FocusSessionID = "focus_session"
	SafeDefaultID  = "safe_default"
)

// Builtins returns a fresh instance of every built-in skill.
func Builtins() []spec.Skill {
	return []spec.Skill{
		NewLateBite(),
		NewFocusSession(),
		NewSafeDefault(),
	}
}

// Register adds every built-in skill to cat.
func Register(ctx context.Context, cat *catalog.Catalog) error {
	var errs []error
	for _, sk := range Builtins() {
		if _, err := cat.Add(ctx, sk, catalog.OriginBuiltin, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
