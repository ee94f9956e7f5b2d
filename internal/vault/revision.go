package vault

import (
	"errors"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Revision describes the git commit a vault is checked out at.
type Revision struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Revision returns the HEAD of the git repository containing the vault, or
// nil when the vault is not under git or has no commits.
func (v *Vault) Revision() *Revision {
	repo, err := git.PlainOpenWithOptions(v.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			v.logger.Debug("opening vault repository failed", zap.Error(err))
		}
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		return nil
	}

	rev := &Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}
	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			rev.Dirty = !status.IsClean()
		}
	}
	return rev
}
