package crawler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/github-contrib-scanner/internal/contribution"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/limiter"
)

func byURL(cs []contribution.Contribution) map[string]contribution.Contribution {
	out := make(map[string]contribution.Contribution, len(cs))
	for _, c := range cs {
		out[c.URL] = c
	}
	return out
}

func TestFetchRepository_KeepsOnlyUserContributions(t *testing.T) {
	api := newFakeAPI()
	api.pulls["web"] = []githubapi.PullRequest{
		mergedPR("Alice", "https://github.com/devsnorte/web/pull/1"),
		{Title: "closed", HTMLURL: "https://github.com/devsnorte/web/pull/2", AuthorLogin: "alice", CreatedAt: day},
		mergedPR("bob", "https://github.com/devsnorte/web/pull/3"),
	}
	api.issues["web"] = []githubapi.Issue{
		openedIssue("alice", "https://github.com/devsnorte/web/issues/4"),
		{Title: "pr", HTMLURL: "https://github.com/devsnorte/web/pull/1", AuthorLogin: "alice", IsPullRequest: true, CreatedAt: day},
	}
	api.comments["web"] = []githubapi.Comment{
		comment("alice", "web", 4, 10),
		comment("bob", "web", 4, 11),
		comment("alice", "web", 1, 12),
	}
	api.parents["web#4"] = githubapi.Issue{Number: 4, Title: "Crash on save", CreatedAt: day}
	api.parents["web#1"] = githubapi.Issue{Number: 1, Title: "Add login", IsPullRequest: true, CreatedAt: day}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	counter := limiter.NewWindowCounter(30, time.Minute)

	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web", FullName: "devsnorte/web"}, "alice", counter)
	require.NoError(t, err)
	require.Len(t, cs, 4)

	got := byURL(cs)
	assert.Equal(t, contribution.KindPullRequestMerged, got["https://github.com/devsnorte/web/pull/1"].Kind)
	assert.Equal(t, contribution.KindIssueOpened, got["https://github.com/devsnorte/web/issues/4"].Kind)

	issueComment := got["https://github.com/devsnorte/web/issues/4#issuecomment-10"]
	assert.Equal(t, contribution.KindIssueComment, issueComment.Kind)
	assert.Equal(t, "Comment on Crash on save", issueComment.Title)
	assert.Equal(t, 1, issueComment.Points)

	prComment := got["https://github.com/devsnorte/web/issues/1#issuecomment-12"]
	assert.Equal(t, contribution.KindPullRequestComment, prComment.Kind)
	assert.Equal(t, "Comment on Add login", prComment.Title)
	assert.Equal(t, 3, prComment.Points)

	for _, c := range cs {
		assert.Equal(t, "devsnorte/web", c.Repository)
	}
	// three list calls plus two parent lookups
	assert.Equal(t, 5, counter.Count())
}

func TestFetchRepository_SubCallFailureIsOmitted(t *testing.T) {
	api := &failingPulls{fakeAPI: newFakeAPI()}
	api.issues["web"] = []githubapi.Issue{openedIssue("alice", "https://github.com/devsnorte/web/issues/4")}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", limiter.NewWindowCounter(30, time.Minute))
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, contribution.KindIssueOpened, cs[0].Kind)
	assert.Equal(t, "devsnorte/web", cs[0].Repository)
}

type failingPulls struct {
	*fakeAPI
}

func (f *failingPulls) ListClosedPullRequests(ctx context.Context, owner, repo string, perPage int) ([]githubapi.PullRequest, error) {
	return nil, fmt.Errorf("list pull requests: %w", githubapi.ErrRateLimited)
}

// panickingAPI panics listing issues and resolving issue #9.
type panickingAPI struct {
	*fakeAPI
}

func (f *panickingAPI) ListIssuesByCreator(ctx context.Context, owner, repo, creator string, perPage int) ([]githubapi.Issue, error) {
	panic("nil issue page")
}

func (f *panickingAPI) GetIssue(ctx context.Context, owner, repo string, number int) (githubapi.Issue, error) {
	if number == 9 {
		panic("nil issue")
	}
	return f.fakeAPI.GetIssue(ctx, owner, repo, number)
}

func TestFetchRepository_PanicIsOmitted(t *testing.T) {
	api := &panickingAPI{fakeAPI: newFakeAPI()}
	api.pulls["web"] = []githubapi.PullRequest{mergedPR("alice", "https://github.com/devsnorte/web/pull/1")}
	api.comments["web"] = []githubapi.Comment{
		comment("alice", "web", 4, 10),
		comment("alice", "web", 9, 11),
	}
	api.parents["web#4"] = githubapi.Issue{Number: 4, Title: "Crash on save", CreatedAt: day}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", limiter.NewWindowCounter(30, time.Minute))
	require.NoError(t, err)
	require.Len(t, cs, 2)

	got := byURL(cs)
	assert.Equal(t, contribution.KindPullRequestMerged, got["https://github.com/devsnorte/web/pull/1"].Kind)
	assert.Equal(t, contribution.KindIssueComment, got["https://github.com/devsnorte/web/issues/4#issuecomment-10"].Kind)
}

func TestFetchRepository_UnauthorizedPropagates(t *testing.T) {
	api := newFakeAPI()
	api.failRepo["web"] = fmt.Errorf("list: %w", githubapi.ErrUnauthorized)

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	_, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", limiter.NewWindowCounter(30, time.Minute))
	assert.ErrorIs(t, err, githubapi.ErrUnauthorized)
}

func TestFetchRepository_WaitsForWindowBeforeCalling(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	now := time.Unix(5000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	var delays []time.Duration
	counter := limiter.NewWindowCounter(30, time.Minute,
		limiter.WithClock(clock),
		limiter.WithSleep(func(ctx context.Context, d time.Duration) error {
			record("sleep")
			mu.Lock()
			delays = append(delays, d)
			now = now.Add(d)
			mu.Unlock()
			return nil
		}),
	)
	counter.Preset(30, now.Add(-15*time.Second))

	api := newFakeAPI()
	api.onCall = func() { record("call") }

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	_, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", counter)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, "sleep", events[0])
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], 45*time.Second)
	assert.Equal(t, 3, counter.Count())
}

func TestFetchRepository_CapsCommentsPerRepository(t *testing.T) {
	api := newFakeAPI()
	for i := 0; i < 15; i++ {
		api.comments["web"] = append(api.comments["web"], comment("alice", "web", 7, int64(100+i)))
	}
	api.parents["web#7"] = githubapi.Issue{Number: 7, Title: "Docs", CreatedAt: day}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", limiter.NewWindowCounter(100, time.Minute))
	require.NoError(t, err)
	assert.Len(t, cs, maxCommentsPerRepo)
}

func TestFetchRepository_UnresolvableCommentIsDropped(t *testing.T) {
	api := newFakeAPI()
	api.comments["web"] = []githubapi.Comment{
		comment("alice", "web", 8, 1),
		{ID: 2, HTMLURL: "https://github.com/devsnorte/web/issues/9#issuecomment-2", IssueURL: "bogus", AuthorLogin: "alice", CreatedAt: day},
	}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", false)
	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web"}, "alice", limiter.NewWindowCounter(30, time.Minute))
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestFetchRepository_Commits(t *testing.T) {
	api := newFakeAPI()
	api.commits["web"] = []githubapi.Commit{
		{SHA: "a1", Message: "Fix build\n\nlong body", HTMLURL: "https://github.com/devsnorte/web/commit/a1", AuthorLogin: "alice", CreatedAt: day},
		{SHA: "b2", Message: "Other", HTMLURL: "https://github.com/devsnorte/web/commit/b2", AuthorLogin: "bob", CreatedAt: day},
	}

	fetcher := NewFetcher(testLogger(t), api, "devsnorte", true)
	counter := limiter.NewWindowCounter(30, time.Minute)
	cs, err := fetcher.FetchRepository(context.Background(), githubapi.Repository{Name: "web", DefaultBranch: "develop"}, "alice", counter)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, contribution.KindCommit, cs[0].Kind)
	assert.Equal(t, "Fix build", cs[0].Title)
	assert.Equal(t, 5, cs[0].Points)
	assert.Equal(t, 4, counter.Count())
}

func TestIssueNumber(t *testing.T) {
	n, err := issueNumber("https://api.github.com/repos/o/r/issues/42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = issueNumber("https://api.github.com/repos/o/r/issues/")
	assert.Error(t, err)
	_, err = issueNumber("abc")
	assert.Error(t, err)
}
