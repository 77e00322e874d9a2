package orchestrator

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/genforge/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultMaxReviewIterations bounds the review-fix loop.
const DefaultMaxReviewIterations = 2

// Reviser reviews and fixes code. StageExecutor implements it.
type Reviser interface {
	Review(ctx context.Context, code string) (string, error)
	Fix(ctx context.Context, code, feedback string) (string, error)
}

// ReviewLoop alternates review and fix calls until the judge approves the
// code or the iteration bound is reached.
type ReviewLoop struct {
	reviser Reviser
	judge   ReviewJudge
	bound   int
	logger  *logging.Logger
	inst    *instruments
}

// NewReviewLoop creates a ReviewLoop. A bound below one uses
// DefaultMaxReviewIterations and a nil judge uses MarkerJudge.
func NewReviewLoop(r Reviser, judge ReviewJudge, bound int, logger *logging.Logger) *ReviewLoop {
	if judge == nil {
		judge = MarkerJudge{Marker: DefaultApprovalMarker}
	}
	if bound < 1 {
		bound = DefaultMaxReviewIterations
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReviewLoop{reviser: r, judge: judge, bound: bound, logger: logger}
}

// Run reviews code. Every rejected review triggers exactly one fix whose
// output replaces the working code. Errors from the reviser are returned
// as is; non-approval never is an error.
func (l *ReviewLoop) Run(ctx context.Context, code string) (ReviewOutcome, error) {
	out := ReviewOutcome{State: ReviewReviewing, Code: code}

	if strings.TrimSpace(code) == "" {
		out.State = ReviewSkipped
		l.logger.Warn(ctx, "review skipped, no code to review")
		return out, nil
	}

	for out.Iterations < l.bound {
		out.Iterations++
		approved, err := l.iterate(logging.WithIteration(ctx, out.Iterations), &out)
		if err != nil {
			return out, err
		}
		if approved {
			out.State = ReviewApproved
			out.Changed = out.Code != code
			l.logger.Info(ctx, "code review approved",
				zap.Int("reviews", out.Reviews),
				zap.Int("fixes", out.Fixes))
			return out, nil
		}
		if out.State == ReviewExhausted {
			out.Changed = out.Code != code
			return out, nil
		}
		out.State = ReviewReviewing
	}

	out.State = ReviewExhausted
	out.Changed = out.Code != code
	l.logger.Warn(ctx, "review budget exhausted, keeping last code",
		zap.Int("reviews", out.Reviews),
		zap.Int("fixes", out.Fixes))
	return out, nil
}

// iterate performs one review and, on rejection, one fix.
func (l *ReviewLoop) iterate(ctx context.Context, out *ReviewOutcome) (bool, error) {
	ctx, span := l.inst.start(ctx, "orchestrator.review_iteration", attribute.Int("iteration", out.Iterations))
	defer span.End()

	review, err := l.reviser.Review(ctx, out.Code)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	out.Reviews++

	approved := l.judge.Approved(review)
	l.inst.recordReview(ctx, approved)
	span.SetAttributes(attribute.Bool("approved", approved))
	if approved {
		return true, nil
	}

	l.logger.Info(ctx, "code review requested revisions")
	l.logger.Debug(ctx, "review feedback", zap.String("review", review))
	out.State = ReviewFixing

	fixed, err := l.reviser.Fix(ctx, out.Code, review)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	out.Fixes++
	l.inst.recordFix(ctx, "review")

	if strings.TrimSpace(fixed) == "" {
		out.State = ReviewExhausted
		l.logger.Warn(ctx, "fix returned no code, keeping previous version")
		return false, nil
	}
	out.Code = fixed
	return false, nil
}
