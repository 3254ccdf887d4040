package planner

import (
	"context"

	"github.com/book-expert/logger"

	"github.com/book-expert/blog-illustrator-service/internal/anchors"
	"github.com/book-expert/blog-illustrator-service/internal/config"
)

// RemotePlanner is implemented by Remote and by test doubles.
type RemotePlanner interface {
	Plan(ctx context.Context, list []anchors.Anchor, title string, maxImages int) ([]Placement, error)
}

// Planner chooses between remote and heuristic planning.
type Planner struct {
	remote RemotePlanner
	logger *logger.Logger
	mode   config.ExecutionMode
}

func New(mode config.ExecutionMode, remote RemotePlanner, log *logger.Logger) *Planner {
	return &Planner{
		remote: remote,
		logger: log,
		mode:   mode,
	}
}

// Plan never fails: any remote error falls back to the heuristic plan and is
// reported in Outcome.Err.
func (p *Planner) Plan(ctx context.Context, list []anchors.Anchor, title string, maxImages int) Outcome {
	if maxImages <= 0 {
		return Outcome{Placements: []Placement{}, Source: SourceHeuristic}
	}

	if p.mode != config.ModeLive || p.remote == nil {
		return Outcome{Placements: Heuristic(list, maxImages), Source: SourceHeuristic}
	}

	placements, err := p.remote.Plan(ctx, list, title, maxImages)
	if err != nil {
		p.logger.Warnf("Remote planning failed, using heuristic plan: %v", err)

		return Outcome{Placements: Heuristic(list, maxImages), Source: SourceHeuristic, Err: err}
	}

	return Outcome{Placements: placements, Source: SourceRemote}
}
