// Package reposource reads README.md from every branch of a git repository.
package reposource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// ReadmeFile is the file read from each branch.
const ReadmeFile = "README.md"

// ErrNoReadmes is returned when no branch carries a README.md.
var ErrNoReadmes = errors.New("no README.md found on any branch")

// Readme is one branch's README.
type Readme struct {
	Branch  string
	Commit  string
	Content string
}

// Reader clones repositories into memory and extracts their READMEs.
type Reader struct {
	token  string
	logger *zap.Logger
}

// NewReader returns a Reader. A non-empty token is sent as HTTP basic auth,
// which GitHub accepts for personal access tokens.
func NewReader(token string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{token: token, logger: logger}
}

// Clone clones url into memory with every branch fetched.
func (r *Reader) Clone(ctx context.Context, url string) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:          url,
		NoCheckout:   true,
		SingleBranch: false,
		Tags:         git.NoTags,
	}
	if r.token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.token}
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return repo, nil
}

// Open opens a repository already on disk.
func (r *Reader) Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

// ReadURL clones url and returns its READMEs.
func (r *Reader) ReadURL(ctx context.Context, url string) ([]Readme, error) {
	repo, err := r.Clone(ctx, url)
	if err != nil {
		return nil, err
	}
	return r.Readmes(ctx, repo)
}

// Readmes returns README.md from every local and remote-tracking branch,
// sorted by branch name. Branches without the file are skipped.
func (r *Reader) Readmes(ctx context.Context, repo *git.Repository) ([]Readme, error) {
	branches, err := branchHeads(repo)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Readme
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash := branches[name]
		content, err := readFile(repo, hash, ReadmeFile)
		if errors.Is(err, object.ErrFileNotFound) {
			r.logger.Debug("branch has no README", zap.String("branch", name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s on %s: %w", ReadmeFile, name, err)
		}
		out = append(out, Readme{Branch: name, Commit: hash.String(), Content: content})
	}

	if len(out) == 0 {
		return nil, ErrNoReadmes
	}
	return out, nil
}

// branchHeads maps short branch names to commit hashes. Remote-tracking
// branches lose their remote prefix; a local branch wins over a remote one
// of the same name.
func branchHeads(repo *git.Repository) (map[string]plumbing.Hash, error) {
	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer refs.Close()

	heads := make(map[string]plumbing.Hash)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		switch {
		case name.IsBranch():
			heads[name.Short()] = ref.Hash()
		case name.IsRemote():
			short := name.Short()
			if i := strings.Index(short, "/"); i >= 0 {
				short = short[i+1:]
			}
			if short == "HEAD" {
				return nil
			}
			if _, ok := heads[short]; !ok {
				heads[short] = ref.Hash()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return heads, nil
}

func readFile(repo *git.Repository, hash plumbing.Hash, path string) (string, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", hash, err)
	}
	file, err := commit.File(path)
	if err != nil {
		return "", err
	}
	return file.Contents()
}
