// Package githubapi wraps the GitHub REST client used by the scanner. It
// authenticates with a bearer token and turns authentication and rate-limit
// failures into sentinel errors so callers can tell them apart.

package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized = errors.New("github authentication failed")
	ErrRateLimited  = errors.New("github rate limit exceeded")
	ErrNotFound     = errors.New("github resource not found")
)

type Caller struct {
	Logger log.Logger
	Config *cfg.Config
	client *github.Client
}

func NewCaller(logger log.Logger, config *cfg.Config) (*Caller, error) {
	if config.GithubApi.AccessToken == "" {
		return nil, cfg.ErrMissingToken
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.GithubApi.AccessToken})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = time.Duration(config.GithubApi.RequestTimeoutSec) * time.Second

	client := github.NewClient(httpClient)
	if config.GithubApi.ApiUrl != "" {
		apiUrl := config.GithubApi.ApiUrl
		if !strings.HasSuffix(apiUrl, "/") {
			apiUrl += "/"
		}
		baseURL, err := url.Parse(apiUrl)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url %q: %w", config.GithubApi.ApiUrl, err)
		}
		client.BaseURL = baseURL
	}

	return &Caller{
		Logger: logger,
		Config: config,
		client: client,
	}, nil
}

// HandleRateLimit classifies a failed call and logs the remaining budget.
func (c *Caller) HandleRateLimit(ctx context.Context, op string, resp *github.Response, err error) error {
	if resp != nil && resp.Rate.Limit > 0 {
		c.Logger.Debug(ctx, "%s: rate limit remaining %d/%d", op, resp.Rate.Remaining, resp.Rate.Limit)
	}
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		c.Logger.Warn(ctx, "Rate limit hit during %s, resets at %s", op, rateErr.Rate.Reset.Format(time.RFC3339))
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		c.Logger.Warn(ctx, "Secondary rate limit hit during %s, retry after %v", op, abuseErr.GetRetryAfter())
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}

	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	var errResp *github.ErrorResponse
	if status == 0 && errors.As(err, &errResp) && errResp.Response != nil {
		status = errResp.Response.StatusCode
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Authenticated returns the login owning the configured token.
func (c *Caller) Authenticated(ctx context.Context) (string, error) {
	user, resp, err := c.client.Users.Get(ctx, "")
	if err := c.HandleRateLimit(ctx, "get authenticated user", resp, err); err != nil {
		return "", err
	}
	return user.GetLogin(), nil
}

func (c *Caller) ListOrgRepos(ctx context.Context, org string, perPage int) ([]Repository, error) {
	repos, resp, err := c.client.Repositories.ListByOrg(ctx, org, &github.RepositoryListByOrgOptions{
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err := c.HandleRateLimit(ctx, "list repositories for "+org, resp, err); err != nil {
		return nil, err
	}

	out := make([]Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, Repository{
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			DefaultBranch: r.GetDefaultBranch(),
			Archived:      r.GetArchived(),
			UpdatedAt:     r.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

func (c *Caller) ListClosedPullRequests(ctx context.Context, owner, repo string, perPage int) ([]PullRequest, error) {
	prs, resp, err := c.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "closed",
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err := c.HandleRateLimit(ctx, "list pull requests for "+owner+"/"+repo, resp, err); err != nil {
		return nil, err
	}

	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		item := PullRequest{
			Number:      pr.GetNumber(),
			Title:       pr.GetTitle(),
			HTMLURL:     pr.GetHTMLURL(),
			AuthorLogin: pr.GetUser().GetLogin(),
			CreatedAt:   pr.GetCreatedAt().Time,
		}
		if pr.MergedAt != nil {
			merged := pr.MergedAt.Time
			item.MergedAt = &merged
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Caller) ListIssuesByCreator(ctx context.Context, owner, repo, creator string, perPage int) ([]Issue, error) {
	issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
		Creator:     creator,
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err := c.HandleRateLimit(ctx, "list issues for "+owner+"/"+repo, resp, err); err != nil {
		return nil, err
	}

	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, toIssue(issue))
	}
	return out, nil
}

// ListRecentComments lists the newest issue and pull request comments of a repository.
func (c *Caller) ListRecentComments(ctx context.Context, owner, repo string, perPage int) ([]Comment, error) {
	comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, 0, &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("desc"),
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err := c.HandleRateLimit(ctx, "list comments for "+owner+"/"+repo, resp, err); err != nil {
		return nil, err
	}

	out := make([]Comment, 0, len(comments))
	for _, cm := range comments {
		out = append(out, Comment{
			ID:          cm.GetID(),
			HTMLURL:     cm.GetHTMLURL(),
			IssueURL:    cm.GetIssueURL(),
			AuthorLogin: cm.GetUser().GetLogin(),
			CreatedAt:   cm.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func (c *Caller) GetIssue(ctx context.Context, owner, repo string, number int) (Issue, error) {
	issue, resp, err := c.client.Issues.Get(ctx, owner, repo, number)
	if err := c.HandleRateLimit(ctx, fmt.Sprintf("get issue %s/%s#%d", owner, repo, number), resp, err); err != nil {
		return Issue{}, err
	}
	return toIssue(issue), nil
}

func (c *Caller) ListCommits(ctx context.Context, owner, repo, sha string, perPage int) ([]Commit, error) {
	commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		SHA:         sha,
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err := c.HandleRateLimit(ctx, "list commits for "+owner+"/"+repo, resp, err); err != nil {
		return nil, err
	}

	out := make([]Commit, 0, len(commits))
	for _, rc := range commits {
		created := rc.GetCommit().GetAuthor().GetDate().Time
		if created.IsZero() {
			created = rc.GetCommit().GetCommitter().GetDate().Time
		}
		out = append(out, Commit{
			SHA:         rc.GetSHA(),
			Message:     rc.GetCommit().GetMessage(),
			HTMLURL:     rc.GetHTMLURL(),
			AuthorLogin: rc.GetAuthor().GetLogin(),
			CreatedAt:   created,
		})
	}
	return out, nil
}

func toIssue(issue *github.Issue) Issue {
	return Issue{
		Number:        issue.GetNumber(),
		Title:         issue.GetTitle(),
		HTMLURL:       issue.GetHTMLURL(),
		AuthorLogin:   issue.GetUser().GetLogin(),
		IsPullRequest: issue.IsPullRequest(),
		CreatedAt:     issue.GetCreatedAt().Time,
	}
}
