package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/hourglass/internal/review"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// SyncTracker mirrors a terminal outcome to the ticket's tracker: the status
// transition, then the time-tracking, change-summary and publication-link
// comments that apply. Every step is attempted; failures are joined.
func (p *Pipeline) SyncTracker(ctx context.Context, o *Outcome, hours float64) error {
	t := o.Ticket
	if !o.Status.IsTerminal() {
		return fmt.Errorf("ticket %s is not terminal: %s", t.ExternalKey, o.Status)
	}

	var project *routing.Project
	if p.router != nil {
		project, _ = p.router.Project(t.ProjectKey)
	}
	src, err := p.registry.SourceFor(ctx, project, t)
	if err != nil {
		return fmt.Errorf("resolve ticket source: %w", err)
	}

	var errs []error
	if err := src.UpdateStatus(ctx, t.ExternalKey, o.Status); err != nil {
		errs = append(errs, fmt.Errorf("update status: %w", err))
	}
	for _, c := range TrackerComments(o, hours) {
		if err := src.AddComment(ctx, t.ExternalKey, c.Body); err != nil {
			errs = append(errs, fmt.Errorf("add %s comment: %w", c.Kind, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.log.Warn("Tracker update incomplete",
			slog.String("ticket", t.ExternalKey),
			slog.String("source", src.Name()),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Tracker comment kinds, in posting order.
const (
	CommentTimeTracking  = "time_tracking"
	CommentChangeSummary = "change_summary"
	CommentPublication   = "publication"
)

// Comment is one tracker comment.
type Comment struct {
	Kind string
	Body string
}

// TrackerComments renders the comments posted once a ticket is terminal.
// Time tracking is always present; the change summary and publication link
// only when the outcome has them.
func TrackerComments(o *Outcome, hours float64) []Comment {
	comments := []Comment{{Kind: CommentTimeTracking, Body: timeTrackingComment(o, hours)}}
	if o.Change != nil && (o.Change.Summary != "" || len(o.Change.Files) > 0) {
		comments = append(comments, Comment{Kind: CommentChangeSummary, Body: changeSummaryComment(o)})
	}
	if o.Publication != nil && o.Publication.URL != "" {
		comments = append(comments, Comment{
			Kind: CommentPublication,
			Body: fmt.Sprintf("Pull request: %s", o.Publication.URL),
		})
	}
	return comments
}

func timeTrackingComment(o *Outcome, hours float64) string {
	var b strings.Builder
	switch o.Status {
	case ticket.StatusCompleted:
		b.WriteString("Hourglass completed this ticket.\n")
	case ticket.StatusRequiresReview:
		b.WriteString("Hourglass finished this ticket, it needs a human review.\n")
	default:
		b.WriteString("Hourglass could not complete this ticket.\n")
	}
	fmt.Fprintf(&b, "\nTime spent: %.2fh\n", hours)

	if o.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", o.Reason)
	}
	if o.Err != nil && o.Status == ticket.StatusFailed {
		fmt.Fprintf(&b, "Error: %v\n", o.Err)
	}
	if o.Review != nil {
		fmt.Fprintf(&b, "Review score: %.2f (threshold %.2f)\n", o.Review.Score, o.Review.Threshold)
	}
	return strings.TrimSpace(b.String())
}

func changeSummaryComment(o *Outcome) string {
	var b strings.Builder
	b.WriteString("Changes:\n")
	if o.Change.Summary != "" {
		b.WriteString(o.Change.Summary)
		b.WriteString("\n")
	}
	if len(o.Change.Files) > 0 {
		fmt.Fprintf(&b, "\nFiles (%d): %s\n", len(o.Change.Files), strings.Join(o.Change.Files, ", "))
	}
	return strings.TrimSpace(b.String())
}

// changeBody renders the pull request description.
func changeBody(t *ticket.Ticket, o *Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolves %s", t.ExternalKey)
	if t.URL != "" {
		fmt.Fprintf(&b, " (%s)", t.URL)
	}
	b.WriteString("\n\n")

	if o.Solution != nil {
		b.WriteString("## Plan\n\n")
		if len(o.Solution.Steps) > 0 {
			for i, s := range o.Solution.Steps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, s)
			}
		} else {
			b.WriteString(strings.TrimSpace(o.Solution.Text))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\nGenerated by `%s` with confidence %.2f.\n", o.Solution.Provider, o.Solution.Confidence)
	}

	if o.Review != nil {
		b.WriteString("\n## Review\n\n")
		b.WriteString(reviewTable(o.Review))
		if !o.Review.Passed {
			b.WriteString("\nThe score is below the threshold. Please review carefully before merging.\n")
		}
	}
	return b.String()
}

func reviewTable(r *review.Result) string {
	var b strings.Builder
	b.WriteString("| Dimension | Score |\n|---|---|\n")
	for _, d := range r.Dimensions {
		if d.Skipped {
			fmt.Fprintf(&b, "| %s | skipped |\n", d.Dimension)
			continue
		}
		fmt.Fprintf(&b, "| %s | %.2f |\n", d.Dimension, d.Score)
	}
	fmt.Fprintf(&b, "| **total** | **%.2f** / %.2f |\n", r.Score, r.Threshold)
	return b.String()
}
