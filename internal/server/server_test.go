package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/github-contrib-scanner/api"
	githubapi "github.com/thep200/github-contrib-scanner/internal/github_api"
	"github.com/thep200/github-contrib-scanner/internal/model"
	"github.com/thep200/github-contrib-scanner/internal/queue"
	"github.com/thep200/github-contrib-scanner/internal/testutil"
)

var _ Service = (*api.ScanAPI)(nil)

type fakeService struct {
	enqueueErr   error
	enqueued     []string
	scans        map[string]*model.ScanJob
	syncLimit    int
	syncErr      error
	boardType    string
	boardLimit   int
	historyLimit int
	dbErr        error
}

func (f *fakeService) Enqueue(_ context.Context, username, userID string) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	if username == "" || userID == "" {
		return "", queue.ErrInvalidRequest
	}
	f.enqueued = append(f.enqueued, username+"/"+userID)
	return "scan-1", nil
}

func (f *fakeService) Status(_ context.Context, scanID string) (*model.ScanJob, error) {
	scan, ok := f.scans[scanID]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", scanID, model.ErrNotFound)
	}
	return scan, nil
}

func (f *fakeService) ScanNow(_ context.Context, username string, repoLimit int) (*api.SyncScanResult, error) {
	f.syncLimit = repoLimit
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	if username == "" {
		return nil, api.ErrUsernameRequired
	}
	return &api.SyncScanResult{
		Username: username,
		Contributions: []api.ContributionView{
			{Type: "pull_request_merged", Label: "Merged Pull Request", Title: "Fix", URL: "https://github.com/o/r/pull/1", Repository: "o/r", Points: 5},
		},
		Meta: api.SyncScanMeta{TotalRepos: 1, ScannedRepos: 1, TotalContributions: 1, TotalPoints: 5, Duration: "1s"},
	}, nil
}

func (f *fakeService) CheckToken(context.Context) (*api.TokenStatus, error) {
	return &api.TokenStatus{Valid: true, Login: "scanner-bot"}, nil
}

func (f *fakeService) Leaderboard(_ context.Context, activityType string, limit int) ([]model.LeaderboardEntry, error) {
	f.boardType, f.boardLimit = activityType, limit
	return []model.LeaderboardEntry{{Rank: 1, UserID: "u1", GithubUsername: "alice", Points: 7}}, nil
}

func (f *fakeService) UserPoints(_ context.Context, userID string) (*model.PointsSummary, error) {
	return &model.PointsSummary{UserID: userID, Total: 7, ByType: map[string]int{"github": 7}}, nil
}

func (f *fakeService) RecentActivity(_ context.Context, userID string, _ int) ([]model.Activity, error) {
	return []model.Activity{{UserID: userID, Type: model.ActivityTypeGithub, Title: "GitHub: Opened Issue", Points: 2}}, nil
}

func (f *fakeService) ContributionHistory(_ context.Context, userID string, limit int) ([]model.GithubContribution, error) {
	f.historyLimit = limit
	return []model.GithubContribution{{UserID: userID, Kind: "issue_opened", URL: "https://github.com/o/r/issues/2", Points: 2}}, nil
}

func (f *fakeService) DatabaseStatus(context.Context) error {
	return f.dbErr
}

func newTestServer(t *testing.T, service Service) *httptest.Server {
	t.Helper()
	config := testutil.Config()
	config.Http.RequestsPerMinute = 2

	s, err := NewServer(testutil.Logger(), config, service)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func postScan(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/github/scan", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestServer_EnqueueScan(t *testing.T) {
	service := &fakeService{}
	ts := newTestServer(t, service)

	resp := postScan(t, ts.URL, `{"username":"alice","userId":"u1"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "scan-1", body["scanId"])
	assert.Equal(t, []string{"alice/u1"}, service.enqueued)
}

func TestServer_EnqueueScanRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	resp := postScan(t, ts.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postScan(t, ts.URL, `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, queue.ErrInvalidRequest.Error(), body["error"])
}

func TestServer_EnqueueScanRateLimited(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	for i := 0; i < 2; i++ {
		resp := postScan(t, ts.URL, `{"username":"alice","userId":"u1"}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postScan(t, ts.URL, `{"username":"alice","userId":"u1"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	// Other routes are not limited.
	resp, err := http.Get(ts.URL + "/api/github/token")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_ScanStatus(t *testing.T) {
	service := &fakeService{scans: map[string]*model.ScanJob{
		"scan-1": {ID: "scan-1", UserID: "u1", Status: model.ScanProcessing, Progress: 60},
	}}
	ts := newTestServer(t, service)

	resp, err := http.Get(ts.URL + "/api/github/scan/status?scanId=scan-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	scan := body["scan"].(map[string]any)
	assert.Equal(t, "processing", scan["status"])
	assert.EqualValues(t, 60, scan["progress"])

	resp, err = http.Get(ts.URL + "/api/github/scan/status?scanId=missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/github/scan/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_SyncScan(t *testing.T) {
	service := &fakeService{}
	ts := newTestServer(t, service)

	resp, err := http.Get(ts.URL + "/api/github/scan/sync?username=alice&limit=500")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", body["username"])
	assert.Len(t, body["contributions"], 1)
	meta := body["meta"].(map[string]any)
	assert.EqualValues(t, 5, meta["totalPoints"])
	assert.Equal(t, maxListLimit, service.syncLimit)

	resp, err = http.Get(ts.URL + "/api/github/scan/sync")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 0, service.syncLimit)
}

func TestServer_SyncScanUpstreamErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("check github token: %w", githubapi.ErrUnauthorized), http.StatusBadGateway},
		{githubapi.ErrRateLimited, http.StatusServiceUnavailable},
		{fmt.Errorf("list repositories: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, &fakeService{syncErr: tt.err})
			resp, err := http.Get(ts.URL + "/api/github/scan/sync?username=alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestServer_Queries(t *testing.T) {
	service := &fakeService{}
	ts := newTestServer(t, service)

	resp, err := http.Get(ts.URL + "/api/leaderboard?type=github&limit=3")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Len(t, body["leaderboard"], 1)
	assert.Equal(t, "github", service.boardType)
	assert.Equal(t, 3, service.boardLimit)

	resp, err = http.Get(ts.URL + "/api/users/u1/points")
	require.NoError(t, err)
	body = decode(t, resp)
	points := body["points"].(map[string]any)
	assert.Equal(t, "u1", points["user_id"])
	assert.EqualValues(t, 7, points["total"])

	resp, err = http.Get(ts.URL + "/api/users/u1/activities")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Len(t, body["activities"], 1)

	resp, err = http.Get(ts.URL + "/api/users/u1/contributions?limit=abc")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Len(t, body["contributions"], 1)
	assert.Equal(t, 0, service.historyLimit)
}

func TestServer_Health(t *testing.T) {
	service := &fakeService{}
	ts := newTestServer(t, service)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	service.dbErr = errors.New("connection refused")
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "connection refused", body["database"])
}

func TestServer_CORS(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/github/scan", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://devs.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterMap_DropsIdleEntries(t *testing.T) {
	now := time.Now()
	rl := newRateLimiterMap(60)
	rl.now = func() time.Time { return now }

	rl.getLimiter("10.0.0.1")
	rl.getLimiter("10.0.0.2")
	assert.Equal(t, 2, rl.size())

	now = now.Add(rateLimitEntryTTL + time.Minute)
	rl.getLimiter("10.0.0.3")
	assert.Equal(t, 1, rl.size())
}

func TestNewServerRequiresService(t *testing.T) {
	_, err := NewServer(testutil.Logger(), testutil.Config(), nil)
	assert.Error(t, err)
}
