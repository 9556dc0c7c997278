package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

var errBoom = errors.New("boom")

var day = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI serves canned GitHub data keyed by repository name.
type fakeAPI struct {
	mu       sync.Mutex
	repos    []githubapi.Repository
	listErr  error
	pulls    map[string][]githubapi.PullRequest
	issues   map[string][]githubapi.Issue
	comments map[string][]githubapi.Comment
	parents  map[string]githubapi.Issue
	commits  map[string][]githubapi.Commit
	failRepo map[string]error
	calls    atomic.Int32
	onCall   func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pulls:    map[string][]githubapi.PullRequest{},
		issues:   map[string][]githubapi.Issue{},
		comments: map[string][]githubapi.Comment{},
		parents:  map[string]githubapi.Issue{},
		commits:  map[string][]githubapi.Commit{},
		failRepo: map[string]error{},
	}
}

func (f *fakeAPI) enter(repo string) error {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failRepo[repo]
}

func (f *fakeAPI) ListOrgRepos(ctx context.Context, org string, perPage int) ([]githubapi.Repository, error) {
	f.calls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.repos, nil
}

func (f *fakeAPI) ListClosedPullRequests(ctx context.Context, owner, repo string, perPage int) ([]githubapi.PullRequest, error) {
	if err := f.enter(repo); err != nil {
		return nil, err
	}
	return f.pulls[repo], nil
}

func (f *fakeAPI) ListIssuesByCreator(ctx context.Context, owner, repo, creator string, perPage int) ([]githubapi.Issue, error) {
	if err := f.enter(repo); err != nil {
		return nil, err
	}
	return f.issues[repo], nil
}

func (f *fakeAPI) ListRecentComments(ctx context.Context, owner, repo string, perPage int) ([]githubapi.Comment, error) {
	if err := f.enter(repo); err != nil {
		return nil, err
	}
	return f.comments[repo], nil
}

func (f *fakeAPI) GetIssue(ctx context.Context, owner, repo string, number int) (githubapi.Issue, error) {
	if err := f.enter(repo); err != nil {
		return githubapi.Issue{}, err
	}
	issue, ok := f.parents[fmt.Sprintf("%s#%d", repo, number)]
	if !ok {
		return githubapi.Issue{}, githubapi.ErrNotFound
	}
	return issue, nil
}

func (f *fakeAPI) ListCommits(ctx context.Context, owner, repo, sha string, perPage int) ([]githubapi.Commit, error) {
	if err := f.enter(repo); err != nil {
		return nil, err
	}
	return f.commits[repo], nil
}

func mergedPR(user, url string) githubapi.PullRequest {
	merged := day.Add(time.Hour)
	return githubapi.PullRequest{Title: "PR " + url, HTMLURL: url, AuthorLogin: user, MergedAt: &merged, CreatedAt: day}
}

func openedIssue(user, url string) githubapi.Issue {
	return githubapi.Issue{Title: "Issue " + url, HTMLURL: url, AuthorLogin: user, CreatedAt: day}
}

func comment(user, repo string, number int, id int64) githubapi.Comment {
	return githubapi.Comment{
		ID:          id,
		HTMLURL:     fmt.Sprintf("https://github.com/devsnorte/%s/issues/%d#issuecomment-%d", repo, number, id),
		IssueURL:    fmt.Sprintf("https://api.github.com/repos/devsnorte/%s/issues/%d", repo, number),
		AuthorLogin: user,
		CreatedAt:   day,
	}
}

func testConfig() *cfg.Config {
	config := &cfg.Config{GithubApi: cfg.GithubApi{AccessToken: "t", Organization: "devsnorte"}}
	config.ApplyDefaults()
	return config
}

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	logger, _ := log.NewCslLogger()
	return logger
}
