package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/queue"
	"github.com/thep200/github-contrib-scanner/internal/testutil"
)

func githubMux(tokenValid bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if !tokenValid {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
			return
		}
		fmt.Fprint(w, `{"login":"scanner-bot"}`)
	})
	mux.HandleFunc("/orgs/devsnorte/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"name":"web","full_name":"devsnorte/web","default_branch":"main","archived":false},
			{"name":"legacy","full_name":"devsnorte/legacy","archived":true}
		]`)
	})
	mux.HandleFunc("/repos/devsnorte/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"number":1,"title":"Add login","html_url":"https://github.com/devsnorte/web/pull/1","user":{"login":"alice"},"merged_at":"2024-05-02T00:00:00Z","created_at":"2024-05-01T00:00:00Z"}]`)
	})
	mux.HandleFunc("/repos/devsnorte/web/issues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"number":2,"title":"Crash","html_url":"https://github.com/devsnorte/web/issues/2","user":{"login":"alice"},"created_at":"2024-05-01T00:00:00Z"}]`)
	})
	mux.HandleFunc("/repos/devsnorte/web/issues/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	return mux
}

func newTestAPI(t *testing.T, tokenValid bool) *ScanAPI {
	t.Helper()
	server := httptest.NewServer(githubMux(tokenValid))
	t.Cleanup(server.Close)

	config := testutil.Config()
	config.GithubApi.ApiUrl = server.URL
	logger := testutil.Logger()
	database := testutil.OpenDatabase(t, config)

	a, err := NewScanAPI(logger, config, database, queue.NewMemoryQueue(logger, 1), queue.NewMemoryGuard())
	require.NoError(t, err)
	require.NoError(t, a.Migrate())
	return a
}

func TestScanNow(t *testing.T) {
	a := newTestAPI(t, true)

	res, err := a.ScanNow(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Meta.TotalRepos)
	assert.Equal(t, 1, res.Meta.ScannedRepos)
	assert.Equal(t, 2, res.Meta.TotalContributions)
	assert.Equal(t, 7, res.Meta.TotalPoints)

	labels := make([]string, 0, len(res.Contributions))
	for _, c := range res.Contributions {
		labels = append(labels, c.Label)
	}
	assert.ElementsMatch(t, []string{"Merged Pull Request", "Opened Issue"}, labels)

	// nothing is persisted
	history, err := a.ContributionHistory(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestScanNow_Validation(t *testing.T) {
	a := newTestAPI(t, true)
	_, err := a.ScanNow(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrUsernameRequired)
}

func TestScanNow_InvalidToken(t *testing.T) {
	a := newTestAPI(t, false)
	_, err := a.ScanNow(context.Background(), "alice", 0)
	assert.ErrorIs(t, err, githubapi.ErrUnauthorized)
}

func TestCheckToken(t *testing.T) {
	status, err := newTestAPI(t, true).CheckToken(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.Equal(t, "scanner-bot", status.Login)

	status, err = newTestAPI(t, false).CheckToken(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.NotEmpty(t, status.Error)
}

func TestQueuedScanFeedsQueries(t *testing.T) {
	a := newTestAPI(t, true)
	runner, err := a.NewRunner()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	id, err := a.Enqueue(context.Background(), "alice", "u1")
	require.NoError(t, err)

	var scan *model.ScanJob
	require.Eventually(t, func() bool {
		scan, err = a.Status(context.Background(), id)
		return err == nil && scan.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.ScanCompleted, scan.Status)
	assert.Equal(t, 7, scan.TotalPoints)

	board, err := a.Leaderboard(context.Background(), model.ActivityTypeGithub, 0)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, "alice", board[0].GithubUsername)
	assert.Equal(t, 7, board[0].Points)

	points, err := a.UserPoints(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, points.Total)

	recent, err := a.RecentActivity(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	history, err := a.ContributionHistory(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assert.NoError(t, a.DatabaseStatus(context.Background()))
}
