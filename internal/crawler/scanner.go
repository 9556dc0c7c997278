// Scanner walks an organization's most recently updated repositories in small
// concurrent batches and gathers one member's contributions from each of them.

package crawler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/internal/contribution"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/limiter"
	"github.com/thep200/github-contrib-scanner/pkg/log"
	"golang.org/x/sync/errgroup"
)

const reposPerPage = 100

// maxBatchProgress keeps 100 reserved for the worker's completion write.
const maxBatchProgress = 99

var ErrEmptyUsername = errors.New("github username is required")

// ProgressFunc receives the percentage of repositories processed so far.
type ProgressFunc func(ctx context.Context, progress int) error

type ScanRequest struct {
	Organization string
	Username     string
	RepoLimit    int
}

type RepoResult struct {
	Repository    string
	Contributions int
	Err           error
}

type ScanResult struct {
	Organization  string
	Username      string
	Listed        int
	Contributions []contribution.Contribution
	Repositories  []RepoResult
	Duration      time.Duration
}

// Failed counts repositories whose fetch did not finish.
func (r *ScanResult) Failed() int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Err != nil {
			n++
		}
	}
	return n
}

type Scanner struct {
	Logger log.Logger
	Config *cfg.Config
	Api    GithubAPI
	Sleep  limiter.SleepFunc
	Now    func() time.Time
}

func NewScanner(logger log.Logger, config *cfg.Config, api GithubAPI) (*Scanner, error) {
	if api == nil {
		return nil, errors.New("github api is required")
	}
	return &Scanner{
		Logger: logger,
		Config: config,
		Api:    api,
		Sleep:  limiter.Sleep,
		Now:    time.Now,
	}, nil
}

// Scan lists the organization's live repositories and fetches them in batches
// sharing one rate window. A listing failure or a rejected token fails the
// scan; any other per-repository failure only drops that repository.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest, progress ProgressFunc) (*ScanResult, error) {
	if req.Username == "" {
		return nil, ErrEmptyUsername
	}
	org := req.Organization
	if org == "" {
		org = s.Config.GithubApi.Organization
	}
	limit := req.RepoLimit
	if limit <= 0 {
		limit = s.Config.GithubApi.RepoLimit
	}

	startTime := s.Now()
	counter := limiter.NewWindowCounter(
		s.Config.GithubApi.RequestsPerMinute,
		s.Config.GithubApi.RateWindow(),
		limiter.WithSleep(s.Sleep),
		limiter.WithClock(s.Now),
	)

	if err := counter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	listed, err := s.Api.ListOrgRepos(ctx, org, reposPerPage)
	if err != nil {
		return nil, fmt.Errorf("list repositories of %s: %w", org, err)
	}
	repos := activeRepositories(listed, limit)
	s.Logger.Info(ctx, "Scanning %d repositories of %s for %s", len(repos), org, req.Username)

	result := &ScanResult{
		Organization: org,
		Username:     req.Username,
		Listed:       len(listed),
		Repositories: make([]RepoResult, 0, len(repos)),
	}
	if len(repos) == 0 {
		result.Duration = s.Now().Sub(startTime)
		return result, nil
	}

	fetcher := NewFetcher(s.Logger, s.Api, org, s.Config.GithubApi.ScanCommits)
	batchSize := s.Config.GithubApi.RepoBatchSize
	lastProgress := 0

	for start := 0; start < len(repos); start += batchSize {
		end := min(start+batchSize, len(repos))
		batch, err := s.scanBatch(ctx, fetcher, repos[start:end], req.Username, counter)
		for _, repo := range batch {
			result.Repositories = append(result.Repositories, repo.RepoResult)
			result.Contributions = append(result.Contributions, repo.contributions...)
		}
		if err != nil {
			return nil, err
		}

		p := batchProgress(end, len(repos))
		if p > lastProgress && progress != nil {
			if err := progress(ctx, p); err != nil {
				s.Logger.Warn(ctx, "Failed to report progress %d%%: %v", p, err)
			} else {
				lastProgress = p
			}
		}

		if end < len(repos) {
			if err := s.Sleep(ctx, s.Config.GithubApi.RepoBatchDelay()); err != nil {
				return nil, err
			}
		}
	}

	result.Duration = s.Now().Sub(startTime)
	s.Logger.Info(ctx, "Scan of %s finished in %v: %d contributions, %d/%d repositories failed",
		req.Username, result.Duration, len(result.Contributions), result.Failed(), len(repos))
	return result, nil
}

type repoScan struct {
	RepoResult
	contributions []contribution.Contribution
}

func (s *Scanner) scanBatch(ctx context.Context, fetcher *Fetcher, repos []githubapi.Repository, username string, counter *limiter.WindowCounter) ([]repoScan, error) {
	out := make([]repoScan, len(repos))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, repo := range repos {
		g.Go(func() (err error) {
			name := repo.FullName
			if name == "" {
				name = repo.Name
			}
			defer func() {
				if r := recover(); r != nil {
					s.Logger.Error(gctx, "Recovered from panic while fetching %s: %v", name, r)
					mu.Lock()
					out[i] = repoScan{RepoResult: RepoResult{Repository: name, Err: fmt.Errorf("panic: %v", r)}}
					mu.Unlock()
					err = nil
				}
			}()

			cs, fetchErr := fetcher.FetchRepository(gctx, repo, username, counter)
			mu.Lock()
			out[i] = repoScan{
				RepoResult:    RepoResult{Repository: name, Contributions: len(cs), Err: fetchErr},
				contributions: cs,
			}
			mu.Unlock()

			if fetchErr == nil {
				return nil
			}
			if errors.Is(fetchErr, githubapi.ErrUnauthorized) || ctx.Err() != nil {
				return fetchErr
			}
			s.Logger.Warn(gctx, "Skipping repository %s: %v", name, fetchErr)
			return nil
		})
	}

	return out, g.Wait()
}

// activeRepositories drops archived repositories and keeps at most limit of
// the rest, in listing order.
func activeRepositories(repos []githubapi.Repository, limit int) []githubapi.Repository {
	out := make([]githubapi.Repository, 0, min(len(repos), limit))
	for _, r := range repos {
		if r.Archived {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

func batchProgress(processed, total int) int {
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > maxBatchProgress {
		p = maxBatchProgress
	}
	return p
}
