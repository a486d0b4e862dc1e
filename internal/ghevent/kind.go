// Package ghevent defines the canonical event record stored by ghpulse and
// the closed set of upstream GitHub event kinds it recognizes.
package ghevent

// Kind is an upstream GitHub event type string. Implementations MUST use
// exactly the upstream names, since they are matched against the "type"
// field GitHub itself sends.
type Kind string

// The monitored kind set K. Events whose type is not in this set are
// dropped by the fetcher and never reach the store.
const (
	KindPush                    Kind = "PushEvent"
	KindPullRequest             Kind = "PullRequestEvent"
	KindIssues                  Kind = "IssuesEvent"
	KindCreate                  Kind = "CreateEvent"
	KindDelete                  Kind = "DeleteEvent"
	KindPullRequestReview       Kind = "PullRequestReviewEvent"
	KindPullRequestReviewComment Kind = "PullRequestReviewCommentEvent"
	KindIssueComment            Kind = "IssueCommentEvent"
	KindCommitComment           Kind = "CommitCommentEvent"
	KindWatch                   Kind = "WatchEvent"
	KindFork                    Kind = "ForkEvent"
	KindSponsorship             Kind = "SponsorshipEvent"
	KindMarketplacePurchase     Kind = "MarketplacePurchaseEvent"
	KindRelease                 Kind = "ReleaseEvent"
	KindDeployment              Kind = "DeploymentEvent"
	KindDeploymentStatus        Kind = "DeploymentStatusEvent"
	KindStatus                  Kind = "StatusEvent"
	KindCheckRun                Kind = "CheckRunEvent"
	KindCheckSuite               Kind = "CheckSuiteEvent"
	KindPublic                  Kind = "PublicEvent"
	KindMember                  Kind = "MemberEvent"
	KindTeamAdd                 Kind = "TeamAddEvent"
	KindGollum                  Kind = "GollumEvent"
)

// All is the closed set K in a stable order, used wherever a caller must
// enumerate every monitored kind (e.g. zero-filling a counts map).
var All = []Kind{
	KindPush, KindPullRequest, KindIssues, KindCreate, KindDelete,
	KindPullRequestReview, KindPullRequestReviewComment, KindIssueComment, KindCommitComment,
	KindWatch, KindFork, KindSponsorship, KindMarketplacePurchase,
	KindRelease, KindDeployment, KindDeploymentStatus,
	KindStatus, KindCheckRun, KindCheckSuite,
	KindPublic, KindMember, KindTeamAdd,
	KindGollum,
}

var membership = func() map[Kind]struct{} {
	m := make(map[Kind]struct{}, len(All))
	for _, k := range All {
		m[k] = struct{}{}
	}
	return m
}()

// In reports whether k belongs to the monitored kind set K.
func In(k Kind) bool {
	_, ok := membership[k]
	return ok
}

// ZeroCounts returns a map covering every kind in K with a zero count,
// the shape count_by_kind and event-counts responses must always return.
func ZeroCounts() map[Kind]int {
	m := make(map[Kind]int, len(All))
	for _, k := range All {
		m[k] = 0
	}
	return m
}
