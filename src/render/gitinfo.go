package render

import (
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitInfo is the subset of a project's git state exposed to templates as
// the "git" render variable: commit sha, short sha, branch, dirty flag,
// the nearest tag, and the repository name parsed out of the origin
// remote (used as the default stage image name when a project doesn't
// configure one explicitly).
type GitInfo struct {
	Commit      string
	ShortCommit string
	Branch      string
	Dirty       bool
	Tag         string
	RemoteName  string
}

// emptyGitInfo is returned, rather than an error, when rootDir is not a
// git repository: template authors should be able to reference {{ .git }}
// unconditionally without every non-git checkout failing the render.
var emptyGitInfo = &GitInfo{}

// DetectGitInfo opens the git repository rooted at rootDir and reports its
// current HEAD state. Any failure to open or inspect the repository is
// swallowed and emptyGitInfo returned, since not every project a template
// runs against is a git checkout.
func DetectGitInfo(rootDir string) *GitInfo {
	repo, err := git.PlainOpenWithOptions(rootDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return emptyGitInfo
	}

	head, err := repo.Head()
	if err != nil {
		return emptyGitInfo
	}

	info := &GitInfo{Commit: head.Hash().String()}
	if len(info.Commit) >= 8 {
		info.ShortCommit = info.Commit[:8]
	} else {
		info.ShortCommit = info.Commit
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}

	info.Tag = nearestTag(repo, head.Hash())
	info.RemoteName = originRemoteName(repo)
	return info
}

// originRemoteName extracts the repository name from the origin remote's
// URL, handling both SSH (git@host:org/repo.git) and HTTPS
// (https://host/org/repo.git) forms.
func originRemoteName(repo *git.Repository) string {
	remote, err := repo.Remote("origin")
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return repoNameFromRemoteURL(remote.Config().URLs[0])
}

// repoNameFromRemoteURL is the pure string-parsing half of
// originRemoteName, split out for testing.
func repoNameFromRemoteURL(url string) string {
	url = strings.TrimSuffix(url, ".git")
	if idx := strings.LastIndex(url, ":"); idx != -1 && !strings.Contains(url, "://") {
		url = url[idx+1:]
	}
	if idx := strings.LastIndex(url, "/"); idx != -1 {
		return url[idx+1:]
	}
	return url
}

// nearestTag returns the name of a tag pointing directly at hash, or the
// empty string if none does. tplbuild does not walk ancestry to find the
// nearest reachable tag; it only reports an exact match, since that is all
// the template contract promises.
func nearestTag(repo *git.Repository, hash plumbing.Hash) string {
	tags, err := repo.Tags()
	if err != nil {
		return ""
	}
	defer tags.Close()

	var found string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			target = tagObj.Target
		}
		if target == hash {
			found = ref.Name().Short()
			return nil
		}
		return nil
	})
	return found
}
