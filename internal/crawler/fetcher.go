package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thep200/github-contrib-scanner/internal/contribution"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/limiter"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"golang.org/x/sync/errgroup"
)

const (
	pullRequestsPerPage = 30
	issuesPerPage       = 30
	commentsPerPage     = 50
	commitsPerPage      = 30
	maxCommentsPerRepo  = 10
)

// GithubAPI is the subset of the GitHub caller a scan needs.
type GithubAPI interface {
	ListOrgRepos(ctx context.Context, org string, perPage int) ([]githubapi.Repository, error)
	ListClosedPullRequests(ctx context.Context, owner, repo string, perPage int) ([]githubapi.PullRequest, error)
	ListIssuesByCreator(ctx context.Context, owner, repo, creator string, perPage int) ([]githubapi.Issue, error)
	ListRecentComments(ctx context.Context, owner, repo string, perPage int) ([]githubapi.Comment, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (githubapi.Issue, error)
	ListCommits(ctx context.Context, owner, repo, sha string, perPage int) ([]githubapi.Commit, error)
}

// Fetcher collects one user's contributions from one repository.
type Fetcher struct {
	Logger      log.Logger
	Api         GithubAPI
	Owner       string
	ScanCommits bool
}

func NewFetcher(logger log.Logger, api GithubAPI, owner string, scanCommits bool) *Fetcher {
	return &Fetcher{
		Logger:      logger,
		Api:         api,
		Owner:       owner,
		ScanCommits: scanCommits,
	}
}

// FetchRepository runs the list calls for repo concurrently under the shared
// counter. A failing sub-call is logged and contributes nothing; only an
// authentication failure or a cancelled context is returned.
func (f *Fetcher) FetchRepository(ctx context.Context, repo githubapi.Repository, username string, counter *limiter.WindowCounter) ([]contribution.Contribution, error) {
	calls := 3
	if f.ScanCommits {
		calls = 4
	}
	if err := counter.Acquire(ctx, calls); err != nil {
		return nil, err
	}

	fullName := repo.FullName
	if fullName == "" {
		fullName = f.Owner + "/" + repo.Name
	}

	var commits, merged, opened, comments []contribution.Contribution
	g, gctx := errgroup.WithContext(ctx)

	if f.ScanCommits {
		g.Go(f.subCall(gctx, "commits", fullName, func() (err error) {
			commits, err = f.commits(gctx, repo, fullName, username)
			return err
		}))
	}
	g.Go(f.subCall(gctx, "pull requests", fullName, func() (err error) {
		merged, err = f.mergedPullRequests(gctx, repo, fullName, username)
		return err
	}))
	g.Go(f.subCall(gctx, "issues", fullName, func() (err error) {
		opened, err = f.openedIssues(gctx, repo, fullName, username)
		return err
	}))
	g.Go(f.subCall(gctx, "comments", fullName, func() (err error) {
		comments, err = f.comments(gctx, repo, fullName, username, counter)
		return err
	}))

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]contribution.Contribution, 0, len(commits)+len(merged)+len(opened)+len(comments))
	out = append(out, commits...)
	out = append(out, merged...)
	out = append(out, opened...)
	out = append(out, comments...)
	return out, nil
}

// subCall runs fn for the errgroup. A panic in fn is treated like any other
// failed sub-call.
func (f *Fetcher) subCall(ctx context.Context, what, repo string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = f.isolate(ctx, what, repo, fmt.Errorf("panic: %v", r))
			}
		}()
		return f.isolate(ctx, what, repo, fn())
	}
}

// isolate keeps a sub-call failure local to its repository unless the token
// itself was rejected.
func (f *Fetcher) isolate(ctx context.Context, what, repo string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, githubapi.ErrUnauthorized) {
		return err
	}
	f.Logger.Warn(ctx, "Error fetching %s for %s: %v", what, repo, err)
	return nil
}

func (f *Fetcher) mergedPullRequests(ctx context.Context, repo githubapi.Repository, fullName, username string) ([]contribution.Contribution, error) {
	prs, err := f.Api.ListClosedPullRequests(ctx, f.Owner, repo.Name, pullRequestsPerPage)
	if err != nil {
		return nil, err
	}

	var out []contribution.Contribution
	for _, pr := range prs {
		if !strings.EqualFold(pr.AuthorLogin, username) || pr.MergedAt == nil {
			continue
		}
		f.keep(ctx, &out, contribution.KindPullRequestMerged, pr.Title, pr.HTMLURL, fullName, pr.CreatedAt)
	}
	return out, nil
}

func (f *Fetcher) openedIssues(ctx context.Context, repo githubapi.Repository, fullName, username string) ([]contribution.Contribution, error) {
	issues, err := f.Api.ListIssuesByCreator(ctx, f.Owner, repo.Name, username, issuesPerPage)
	if err != nil {
		return nil, err
	}

	var out []contribution.Contribution
	for _, issue := range issues {
		if issue.IsPullRequest {
			continue
		}
		if issue.AuthorLogin != "" && !strings.EqualFold(issue.AuthorLogin, username) {
			continue
		}
		f.keep(ctx, &out, contribution.KindIssueOpened, issue.Title, issue.HTMLURL, fullName, issue.CreatedAt)
	}
	return out, nil
}

func (f *Fetcher) commits(ctx context.Context, repo githubapi.Repository, fullName, username string) ([]contribution.Contribution, error) {
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	commits, err := f.Api.ListCommits(ctx, f.Owner, repo.Name, branch, commitsPerPage)
	if err != nil {
		return nil, err
	}

	var out []contribution.Contribution
	for _, c := range commits {
		if !strings.EqualFold(c.AuthorLogin, username) {
			continue
		}
		title := c.Message
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
		f.keep(ctx, &out, contribution.KindCommit, title, c.HTMLURL, fullName, c.CreatedAt)
	}
	return out, nil
}

// comments keeps the user's most recent comments and resolves each parent to
// tell issue comments from pull request comments. Every follow-up goes through
// the counter since these calls dominate the request volume.
func (f *Fetcher) comments(ctx context.Context, repo githubapi.Repository, fullName, username string, counter *limiter.WindowCounter) ([]contribution.Contribution, error) {
	all, err := f.Api.ListRecentComments(ctx, f.Owner, repo.Name, commentsPerPage)
	if err != nil {
		return nil, err
	}

	mine := make([]githubapi.Comment, 0, maxCommentsPerRepo)
	for _, cm := range all {
		if strings.EqualFold(cm.AuthorLogin, username) {
			mine = append(mine, cm)
			if len(mine) == maxCommentsPerRepo {
				break
			}
		}
	}

	results := make([]*contribution.Contribution, len(mine))
	var mu sync.Mutex
	var authErr error
	var wg sync.WaitGroup
	for i, cm := range mine {
		wg.Add(1)
		go func(i int, cm githubapi.Comment) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					f.Logger.Warn(ctx, "Recovered from panic processing comment %s in %s: %v", cm.HTMLURL, fullName, r)
				}
			}()
			c, err := f.resolveComment(ctx, repo, fullName, cm, counter)
			if err != nil {
				if errors.Is(err, githubapi.ErrUnauthorized) {
					mu.Lock()
					authErr = err
					mu.Unlock()
					return
				}
				f.Logger.Warn(ctx, "Error processing comment %s in %s: %v", cm.HTMLURL, fullName, err)
				return
			}
			results[i] = c
		}(i, cm)
	}
	wg.Wait()

	if authErr != nil {
		return nil, authErr
	}

	var out []contribution.Contribution
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *Fetcher) resolveComment(ctx context.Context, repo githubapi.Repository, fullName string, cm githubapi.Comment, counter *limiter.WindowCounter) (*contribution.Contribution, error) {
	number, err := issueNumber(cm.IssueURL)
	if err != nil {
		return nil, err
	}
	if err := counter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	issue, err := f.Api.GetIssue(ctx, f.Owner, repo.Name, number)
	if err != nil {
		return nil, err
	}

	kind := contribution.KindIssueComment
	if issue.IsPullRequest {
		kind = contribution.KindPullRequestComment
	}
	c, err := contribution.New(kind, "Comment on "+issue.Title, cm.HTMLURL, fullName, cm.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// keep appends a validated contribution; records failing validation are logged
// and dropped.
func (f *Fetcher) keep(ctx context.Context, out *[]contribution.Contribution, kind contribution.Kind, title, url, fullName string, createdAt time.Time) {
	c, err := contribution.New(kind, title, url, fullName, createdAt)
	if err != nil {
		f.Logger.Warn(ctx, "Dropping %s record %q in %s: %v", kind, url, fullName, err)
		return
	}
	*out = append(*out, c)
}

// issueNumber reads the trailing number of an issue API url.
func issueNumber(issueURL string) (int, error) {
	idx := strings.LastIndexByte(issueURL, '/')
	if idx < 0 || idx == len(issueURL)-1 {
		return 0, fmt.Errorf("malformed issue url %q", issueURL)
	}
	n, err := strconv.Atoi(issueURL[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed issue url %q: %w", issueURL, err)
	}
	return n, nil
}
