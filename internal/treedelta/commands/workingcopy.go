// Package commands contains the command implementations behind the treedelta
// command-line interface.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/drive"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/repo"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/wc"
)

// resolveDir returns the absolute form of an existing directory.
func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %s: %w", dir, err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return "", fmt.Errorf("directory does not exist: %s", abs)
	}
	return abs, nil
}

// openWorkingCopy loads the working copy in dir. A directory that is not a
// working copy yet becomes a working copy of its own repository.
func openWorkingCopy(dir string) (*wc.State, error) {
	state, err := wc.LoadState(dir)
	if errors.Is(err, wc.ErrNotWorkingCopy) {
		return wc.NewState(dir), nil
	}
	return state, err
}

// repositoryDir returns the repository a directory refers to: the one its
// working copy was checked out from, or the directory itself.
func repositoryDir(dir string) (string, error) {
	abs, err := resolveDir(dir)
	if err != nil {
		return "", err
	}
	state, err := openWorkingCopy(abs)
	if err != nil {
		return "", err
	}
	return state.Repository, nil
}

// openRepository opens the repository in dir, which must exist already.
func openRepository(dir string) (*repo.Repository, error) {
	if _, err := os.Stat(lib.GetRepoDir(dir)); os.IsNotExist(err) {
		return nil, fmt.Errorf("no repository found in %s", dir)
	}
	return repo.Open(dir)
}

// resolveRevision parses an identifier ("HEAD", "r3", "3") and checks it
// against the repository.
func resolveRevision(repository *repo.Repository, identifier string) (types.Revision, error) {
	if identifier == "" {
		identifier = "HEAD"
	}
	rev, err := lib.ParseRevision(identifier)
	if err != nil {
		return types.InvalidRevision, err
	}
	return repository.Resolve(rev)
}

// reportedBase returns the tree the working copy was last updated to, with
// the revision of every path.
func reportedBase(state *wc.State, repository *repo.Repository) (*drive.ReportedTree, error) {
	builder := editor.NewReportBuilder()
	if err := wc.ReportBase(state, editor.NewReporter(builder)); err != nil {
		return nil, err
	}
	report, err := builder.Report()
	if err != nil {
		return nil, err
	}
	return drive.NewReportedTree(report, repository.TreeSourceAt)
}

// printChange prints one line per changed path, like a status listing.
func printChange(kind drive.ChangeKind, p string) {
	fmt.Printf("   %c %s\n", kind, p)
}
