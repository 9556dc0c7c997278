// Typed views of the GitHub REST payloads the scanner reads. They keep the
// fetcher independent from go-github's pointer-heavy structs.

package githubapi

import "time"

type Repository struct {
	Name          string
	FullName      string
	DefaultBranch string
	Archived      bool
	UpdatedAt     time.Time
}

type PullRequest struct {
	Number      int
	Title       string
	HTMLURL     string
	AuthorLogin string
	MergedAt    *time.Time
	CreatedAt   time.Time
}

type Issue struct {
	Number        int
	Title         string
	HTMLURL       string
	AuthorLogin   string
	IsPullRequest bool
	CreatedAt     time.Time
}

type Comment struct {
	ID          int64
	HTMLURL     string
	IssueURL    string
	AuthorLogin string
	CreatedAt   time.Time
}

type Commit struct {
	SHA         string
	Message     string
	HTMLURL     string
	AuthorLogin string
	CreatedAt   time.Time
}
