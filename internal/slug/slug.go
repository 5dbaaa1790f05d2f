// Package slug derives URL slugs from document titles and assigns them.
package slug

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonWord       = regexp.MustCompile(`[^\p{L}\p{N}_-]`)
	dashRun       = regexp.MustCompile(`-+`)
)

// maxAttempts bounds the numeric suffix search for one document.
const maxAttempts = 1000

// Slugify lowercases title, turns whitespace into dashes, drops anything that
// is not a letter, digit, underscore or dash, and collapses dashes.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = nonWord.ReplaceAllString(s, "")
	s = dashRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Result counts the outcome of an Assign pass.
type Result struct {
	Assigned int
	Skipped  int
}

// Assigner gives every slug-less document a unique slug.
type Assigner struct {
	store  crawler.SlugStore
	logger *zap.Logger
}

// NewAssigner builds an Assigner. A nil logger is replaced with a no-op.
func NewAssigner(store crawler.SlugStore, logger *zap.Logger) (*Assigner, error) {
	if store == nil {
		return nil, fmt.Errorf("slug store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{store: store, logger: logger}, nil
}

// Assign walks documents without a slug, oldest first. Documents whose title
// yields an empty slug are skipped and keep a null slug.
func (a *Assigner) Assign(ctx context.Context) (Result, error) {
	docs, err := a.store.ListWithoutSlug(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list documents without slug: %w", err)
	}

	var res Result
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		base := Slugify(doc.Title)
		if base == "" {
			a.logger.Warn("title yields empty slug", zap.Int64("id", doc.ID), zap.String("url", doc.URL))
			res.Skipped++
			continue
		}
		slug, err := a.assignOne(ctx, doc.ID, base)
		if err != nil {
			return res, err
		}
		a.logger.Debug("slug assigned", zap.Int64("id", doc.ID), zap.String("slug", slug))
		res.Assigned++
	}
	return res, nil
}

func (a *Assigner) assignOne(ctx context.Context, id int64, base string) (string, error) {
	candidate := base
	for n := 1; n <= maxAttempts; n++ {
		taken, err := a.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			err = a.store.SetSlug(ctx, id, candidate)
			if err == nil {
				return candidate, nil
			}
			// Another writer took the slug between the check and the update.
			if !errors.Is(err, crawler.ErrConstraintViolation) {
				return "", fmt.Errorf("set slug for document %d: %w", id, err)
			}
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxAttempts)
}
