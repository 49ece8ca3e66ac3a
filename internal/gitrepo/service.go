package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "review.json"

var (
	ErrNoHistory      = errors.New("no review history")
	ErrCommitNotFound = errors.New("review commit not found")
)

// Snapshot is the review state of a log at one point in time.
type Snapshot struct {
	LogID     int64     `json:"logId"`
	BookTitle string    `json:"bookTitle"`
	Rating    *int      `json:"rating"`
	Review    *string   `json:"review"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps one git repository per log under baseDir. Each commit holds
// the review.json snapshot written after a rating or review change.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// CommitReview records snapshot on the log's main branch, creating the
// repository on first use. It reports false without committing when rating
// and review match the current head.
func (s *Service) CommitReview(snapshot Snapshot, author string) (CommitInfo, bool, error) {
	lock := s.logLock(snapshot.LogID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(snapshot.LogID)
	if err != nil {
		return CommitInfo{}, false, err
	}

	message := "Log review"
	if !fresh {
		head, err := headCommit(repo)
		if err != nil {
			return CommitInfo{}, false, err
		}
		previous, err := readSnapshotFromCommit(head)
		if err != nil {
			return CommitInfo{}, false, err
		}
		if !HasChanges(previous, snapshot) {
			return toCommitInfo(head), false, nil
		}
		message = "Update review"
	}

	hash, err := s.commit(repo, snapshot, author, describe(message, snapshot))
	if err != nil {
		return CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

// History lists review commits newest first. A log without a repository has
// an empty history.
func (s *Service) History(logID int64, limit int) ([]CommitInfo, error) {
	lock := s.logLock(logID)
	lock.Lock()
	defer lock.Unlock()

	items := make([]CommitInfo, 0)
	repo, err := git.PlainOpen(s.repoPath(logID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetReviewByHash returns the snapshot stored in a commit. hash may be the
// short form returned by History.
func (s *Service) GetReviewByHash(logID int64, hash string) (Snapshot, CommitInfo, error) {
	lock := s.logLock(logID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(logID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, CommitInfo{}, ErrNoHistory
	}
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Snapshot{}, CommitInfo{}, ErrCommitNotFound
	}
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snapshot, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	return snapshot, toCommitInfo(commitObj), nil
}

// HasChanges reports whether the reviewable fields differ.
func HasChanges(from, to Snapshot) bool {
	switch {
	case (from.Rating == nil) != (to.Rating == nil):
		return true
	case from.Rating != nil && *from.Rating != *to.Rating:
		return true
	case (from.Review == nil) != (to.Review == nil):
		return true
	case from.Review != nil && *from.Review != *to.Review:
		return true
	}
	return false
}

func (s *Service) openOrInit(logID int64) (*git.Repository, bool, error) {
	path := s.repoPath(logID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(logID int64) string {
	return filepath.Join(s.baseDir, "log-"+strconv.FormatInt(logID, 10))
}

func (s *Service) logLock(logID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[logID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[logID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.readinglog.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func describe(message string, snapshot Snapshot) string {
	rating := "none"
	if snapshot.Rating != nil {
		rating = strconv.Itoa(*snapshot.Rating)
	}
	return fmt.Sprintf("%s: %s\n\nrating=%s", message, snapshot.BookTitle, rating)
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode commit snapshot: %w", err)
	}
	return snapshot, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "reader"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrCommitNotFound, hash)
	}
	return *resolved, nil
}
