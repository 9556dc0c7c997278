// Package contribution holds the closed set of GitHub contribution kinds, their
// point values, and the typed record that flows through a scan.
package contribution

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned for values outside the Kind enumeration.
var ErrUnknownKind = errors.New("unknown contribution kind")

type Kind string

const (
	KindCommit             Kind = "commit"
	KindPullRequestMerged  Kind = "pull_request_merged"
	KindPullRequestComment Kind = "pull_request_comment"
	KindIssueOpened        Kind = "issue_opened"
	KindIssueComment       Kind = "issue_comment"
)

type kindInfo struct {
	points int
	label  string
}

var table = map[Kind]kindInfo{
	KindCommit:             {points: 5, label: "Commit"},
	KindPullRequestMerged:  {points: 5, label: "Merged Pull Request"},
	KindPullRequestComment: {points: 3, label: "Pull Request Comment"},
	KindIssueOpened:        {points: 2, label: "Opened Issue"},
	KindIssueComment:       {points: 1, label: "Issue Comment"},
}

var order = []Kind{
	KindCommit,
	KindPullRequestMerged,
	KindPullRequestComment,
	KindIssueOpened,
	KindIssueComment,
}

// Kinds lists every kind in table order.
func Kinds() []Kind {
	out := make([]Kind, len(order))
	copy(out, order)
	return out
}

func PointsFor(k Kind) (int, error) {
	info, ok := table[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return info.points, nil
}

func LabelFor(k Kind) (string, error) {
	info, ok := table[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return info.label, nil
}

func (k Kind) Valid() bool {
	_, ok := table[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts canonical names and the short aliases stored by older rows.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pr_merged", "pull_request":
		return KindPullRequestMerged, nil
	case "pr_comment":
		return KindPullRequestComment, nil
	case "issue":
		return KindIssueOpened, nil
	}
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
