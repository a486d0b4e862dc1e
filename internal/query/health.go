package query

import (
	"context"

	"github.com/ghpulse/ghpulse/internal/ghevent"
)

// HealthScore is repository-health's output shape. The weighted formula is
// grounded verbatim on event_collector.py's get_repository_health_score.
type HealthScore struct {
	Overall       float64
	Activity      float64
	Collaboration float64
	Maintenance   float64
	Security      float64
	TotalEvents   int
}

var activityKinds = []ghevent.Kind{ghevent.KindPush, ghevent.KindPullRequest, ghevent.KindIssues, ghevent.KindCreate, ghevent.KindDelete}
var collaborationKinds = []ghevent.Kind{ghevent.KindPullRequestReview, ghevent.KindIssueComment, ghevent.KindPullRequestReviewComment, ghevent.KindCommitComment}
var maintenanceKinds = []ghevent.Kind{ghevent.KindRelease, ghevent.KindDeployment, ghevent.KindStatus, ghevent.KindCheckRun}
var securityKinds = []ghevent.Kind{ghevent.KindCheckSuite, ghevent.KindStatus, ghevent.KindDeploymentStatus}

// RepositoryHealthScore computes the weighted composite over a window
// (default 168h, the caller's choice). hours must be > 0.
func (e *Engine) RepositoryHealthScore(ctx context.Context, repo string, hours float64) (HealthScore, error) {
	since := e.now().Add(-durationHours(hours))
	counts, err := e.store.CountByKind(ctx, since, repo)
	if err != nil {
		return HealthScore{}, err
	}

	total := sumCounts(counts)
	hoursFloor := hours
	if hoursFloor < 1 {
		hoursFloor = 1
	}

	activity := clamp100(sumKinds(counts, activityKinds) / hoursFloor * 10)
	collaboration := clamp100(100 * float64(sumKinds(counts, collaborationKinds)) / float64(maxInt(1, total)))
	maintenance := clamp100(sumKinds(counts, maintenanceKinds) / hoursFloor * 20)
	security := clamp100(sumKinds(counts, securityKinds) / hoursFloor * 15)

	overall := 0.30*activity + 0.25*collaboration + 0.25*maintenance + 0.20*security

	return HealthScore{
		Overall:       overall,
		Activity:      activity,
		Collaboration: collaboration,
		Maintenance:   maintenance,
		Security:      security,
		TotalEvents:   total,
	}, nil
}

func sumKinds(counts map[ghevent.Kind]int, kinds []ghevent.Kind) float64 {
	var total float64
	for _, k := range kinds {
		total += float64(counts[k])
	}
	return total
}

func clamp100(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
