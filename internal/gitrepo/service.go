// Package gitrepo hosts documents in a local git repository. Every write is
// a commit on one branch and the token of a file is its blob hash, so
// documents and tokens match what the GitHub host would report for the
// same content.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"formvault/api/internal/docstore"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const defaultBranch = "main"

var (
	_ docstore.Host      = (*Service)(nil)
	_ docstore.Historian = (*Service)(nil)
)

type Options struct {
	Branch      string
	AuthorName  string
	AuthorEmail string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Service is a docstore host backed by the worktree at root. The mutex
// makes each precondition check and the commit that follows it atomic.
type Service struct {
	root   string
	branch plumbing.ReferenceName
	author object.Signature
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the repository at root, initialising it with HEAD on the
// configured branch when root is not a repository yet.
func Open(root string, opts Options) (*Service, error) {
	branch := opts.Branch
	if branch == "" {
		branch = defaultBranch
	}
	s := &Service{
		root:   root,
		branch: plumbing.NewBranchReferenceName(branch),
		author: object.Signature{Name: opts.AuthorName, Email: opts.AuthorEmail},
		now:    opts.Now,
		logger: opts.Logger,
	}
	if s.author.Name == "" {
		s.author.Name = "formvault"
	}
	if s.author.Email == "" {
		s.author.Email = "formvault@localhost"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	repo, err := git.PlainOpen(root)
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryNotExists):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, fmt.Errorf("init repo: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, s.branch)); err != nil {
			return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
		}
		s.logger.Info("gitrepo: initialised repository", "root", root, "branch", branch)
	default:
		return nil, fmt.Errorf("open repo: %w", err)
	}
	s.repo = repo
	return s, nil
}

// headTree returns the tree of the branch tip, or nil before the first
// commit.
func (s *Service) headTree() (*object.Tree, error) {
	ref, err := s.repo.Reference(s.branch, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.branch.Short(), err)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("load commit tree: %w", err)
	}
	return tree, nil
}

// lookup returns the committed blob at p.
func (s *Service) lookup(p string) (*object.File, error) {
	tree, err := s.headTree()
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, docstore.ErrNotFound
	}
	file, err := tree.File(cleanPath(p))
	if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", p, err)
	}
	return file, nil
}

// GetFile reads the committed content of p. Uncommitted worktree changes
// are never visible.
func (s *Service) GetFile(ctx context.Context, p string) (docstore.File, error) {
	if err := ctx.Err(); err != nil {
		return docstore.File{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.lookup(p)
	if err != nil {
		return docstore.File{}, err
	}
	reader, err := file.Reader()
	if err != nil {
		return docstore.File{}, fmt.Errorf("open blob %s: %w", p, err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return docstore.File{}, fmt.Errorf("read blob %s: %w", p, err)
	}
	return docstore.File{Content: content, Token: docstore.Token(file.Hash.String())}, nil
}

// PutFile writes p and commits it. A failed add or commit leaves the
// worktree as it was.
func (s *Service) PutFile(ctx context.Context, p string, req docstore.PutRequest) (docstore.Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(p, req.Token, true); err != nil {
		return "", err
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleanPath(p)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", p, err)
	}
	if err := os.WriteFile(target, req.Content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	if _, err := worktree.Add(cleanPath(p)); err != nil {
		s.restore(worktree, p)
		return "", fmt.Errorf("git add %s: %w", p, err)
	}
	if err := s.commit(worktree, req.Message); err != nil {
		s.restore(worktree, p)
		return "", err
	}
	return docstore.BlobToken(req.Content), nil
}

// DeleteFile removes p in a new commit.
func (s *Service) DeleteFile(ctx context.Context, p string, token docstore.Token, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(p, token, false); err != nil {
		return err
	}
	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(cleanPath(p)); err != nil {
		s.restore(worktree, p)
		return fmt.Errorf("git rm %s: %w", p, err)
	}
	if err := s.commit(worktree, message); err != nil {
		s.restore(worktree, p)
		return err
	}
	return nil
}

// restore puts p back to its committed state in both the worktree and the
// index after a write that did not reach a commit.
func (s *Service) restore(worktree *git.Worktree, p string) {
	name := cleanPath(p)
	target := filepath.Join(s.root, filepath.FromSlash(name))
	committed, err := s.lookup(p)
	switch {
	case err == nil:
		var content string
		content, err = committed.Contents()
		if err == nil {
			err = os.WriteFile(target, []byte(content), 0o644)
		}
		if err == nil {
			_, err = worktree.Add(name)
		}
	case errors.Is(err, docstore.ErrNotFound):
		err = os.Remove(target)
		if os.IsNotExist(err) {
			err = nil
		}
		if idx, ierr := s.repo.Storer.Index(); ierr == nil {
			if _, rerr := idx.Remove(name); rerr == nil {
				err = errors.Join(err, s.repo.Storer.SetIndex(idx))
			}
		}
	}
	if err != nil {
		s.logger.Warn("gitrepo: could not restore file after failed write", "path", p, "error", err)
	}
}

// checkToken applies the host precondition rules. Creates (an empty token)
// are allowed only when create is set.
func (s *Service) checkToken(p string, token docstore.Token, create bool) error {
	current, err := s.lookup(p)
	exists := err == nil
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	switch {
	case token == "" && !create && !exists:
		return docstore.ErrNotFound
	case token == "" && exists:
		return docstore.ErrExists
	case token != "" && !exists:
		return fmt.Errorf("%w: %s no longer exists", docstore.ErrConflict, p)
	case token != "" && current.Hash.String() != string(token):
		return docstore.ErrConflict
	}
	return nil
}

func (s *Service) commit(worktree *git.Worktree, message string) error {
	author := s.author
	author.When = s.now()
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            &author,
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("gitrepo: committed", "commit", hash.String()[:7], "message", firstLine(message))
	return nil
}

// ListDir lists the committed files directly under dir.
func (s *Service) ListDir(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.headTree()
	if err != nil || tree == nil {
		return nil, err
	}
	dir = cleanPath(dir)
	if dir != "" {
		tree, err = tree.Tree(dir)
		if errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup dir %s: %w", dir, err)
		}
	}
	var paths []string
	for _, entry := range tree.Entries {
		if entry.Mode.IsFile() {
			paths = append(paths, path.Join(dir, entry.Name))
		}
	}
	return paths, nil
}

// History lists the commits that changed p, newest first.
func (s *Service) History(ctx context.Context, p string, limit int) ([]docstore.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.repo.Reference(s.branch, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []docstore.Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.branch.Short(), err)
	}

	fileName := cleanPath(p)
	iter, err := s.repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]docstore.Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, docstore.Revision{
			Hash:    commitObj.Hash.String()[:7],
			Message: strings.TrimSpace(commitObj.Message),
			Author:  commitObj.Author.Name,
			When:    commitObj.Author.When,
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func cleanPath(p string) string {
	cleaned := path.Clean("/" + p)
	return strings.TrimPrefix(cleaned, "/")
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
