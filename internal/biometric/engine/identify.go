package engine

import (
	"context"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"veribio/internal/audit"
	"veribio/internal/biometric/models"
	dErrors "veribio/pkg/domain-errors"
	"veribio/pkg/requestcontext"
)

// IdentifyRequest carries the inputs for a 1:N identification.
type IdentifyRequest struct {
	ImageData   []byte
	ImageFormat string
	Filter      models.TemplateFilter
	Threshold   *float64
	MaxResults  int
}

// Identify compares one probe against the candidate population. The probe is
// extracted once; every candidate is compared — similarity is not monotonic
// with any cheap pre-filter, so there is no early termination. Comparisons
// fan out bounded by the configured concurrency and ranking waits for all of
// them; a single comparison failure fails the whole run rather than return a
// silently incomplete ranking.
func (e *Engine) Identify(ctx context.Context, req IdentifyRequest) (*models.IdentificationResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Identify")
	defer span.End()

	if err := validateImage(req.ImageData, req.ImageFormat); err != nil {
		return nil, err
	}
	threshold, err := e.resolveThreshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = e.cfg.DefaultMaxResults
	}

	extraction, err := e.extract(ctx, req.ImageData, req.ImageFormat)
	if err != nil {
		return nil, err
	}

	candidates, err := e.templates.Search(ctx, req.Filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to resolve candidate set")
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	matches, err := e.compareAll(ctx, extraction.Encoding, candidates, threshold)
	if err != nil {
		return nil, err
	}

	// Rank by similarity descending; equal similarities break ties on
	// ascending template ID so repeated runs return identical orderings.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].TemplateID.String() < matches[j].TemplateID.String()
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	e.metrics.ObserveIdentification(len(candidates))
	e.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityTemplate,
		EntityID:   "population",
		Action:     audit.ActionIdentified,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"templates_searched": strconv.Itoa(len(candidates)),
			"matches":            strconv.Itoa(len(matches)),
		},
	})

	return &models.IdentificationResult{
		Matches:           matches,
		TemplatesSearched: len(candidates),
		Threshold:         threshold,
	}, nil
}

func (e *Engine) compareAll(
	ctx context.Context,
	probe []float64,
	candidates []*models.BiometricTemplate,
	threshold float64,
) ([]models.CandidateMatch, error) {
	results := make([]*models.CandidateMatch, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.IdentifyConcurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			comparison, err := e.compare(gctx, probe, candidate.Encoding)
			if err != nil {
				return err
			}
			if comparison.Similarity >= threshold {
				results[i] = &models.CandidateMatch{
					TemplateID: candidate.ID,
					SubjectID:  candidate.SubjectID,
					Similarity: comparison.Similarity,
					Distance:   comparison.Distance,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]models.CandidateMatch, 0, len(results))
	for _, match := range results {
		if match != nil {
			matches = append(matches, *match)
		}
	}
	return matches, nil
}
