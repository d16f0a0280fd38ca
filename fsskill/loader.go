package fsskill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/internal/pathutil"
	"github.com/xingyang1991/nightfall/spec"
)

// LoadDir parses every immediate subdirectory of root that holds a SKILL.md.
// Broken skills are skipped and reported in the joined error; the valid ones
// are still returned.
func LoadDir(ctx context.Context, root string, opts ...Option) ([]*Skill, error) {
	base, err := pathutil.CanonicalDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", spec.ErrInvalidArgument, err)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	var (
		out  []*Skill
		errs []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !e.IsDir() {
			continue
		}
		dir, err := pathutil.JoinUnderRoot(base, e.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, skillFileName)); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		doc, err := ParseDir(ctx, dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sk, err := New(doc, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", doc.Path, err))
			continue
		}
		out = append(out, sk)
	}
	return out, errors.Join(errs...)
}

// Register loads root and adds every valid skill to cat. A skill whose id is
// already registered is reported, not replaced.
func Register(ctx context.Context, cat *catalog.Catalog, root string, opts ...Option) ([]catalog.Record, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: nil catalog", spec.ErrInvalidArgument)
	}
	skills, loadErr := LoadDir(ctx, root, opts...)

	recs := make([]catalog.Record, 0, len(skills))
	errs := []error{loadErr}
	for _, sk := range skills {
		rec, err := cat.Add(ctx, sk, catalog.OriginFS, filepath.Dir(sk.doc.Path))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errors.Join(errs...)
}
