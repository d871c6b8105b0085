package commands

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/drive"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/repo"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/wc"
)

// Commit is the main function for the 'commit' command. It sends the
// differences between a working copy and the revisions it was updated to as
// one edit, creating a new revision of its repository. A directory that is
// not a working copy is committed into a repository of its own.
func Commit(targetDirectory string, message string) error {
	// 1. Initial setup and validation
	absTargetPath, err := resolveDir(targetDirectory)
	if err != nil {
		return err
	}
	state, err := openWorkingCopy(absTargetPath)
	if err != nil {
		return fmt.Errorf("failed to load working copy: %w", err)
	}

	fmt.Printf("📦 Committing \"%s\"...\n", absTargetPath)

	repository, err := repo.Open(state.Repository)
	if err != nil {
		return err
	}
	settings, err := lib.LoadSettings(state.Repository)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// 2. The base is what the working copy was last updated to, the target
	// what is on disk now.
	base, err := reportedBase(state, repository)
	if err != nil {
		return fmt.Errorf("failed to describe working copy: %w", err)
	}
	target, err := wc.NewWorkingTree(absTargetPath, state)
	if err != nil {
		return err
	}

	// 3. Drive the differences into a commit.
	receiver := repo.NewCommitReceiver(repository, repo.CommitOptions{Message: message, Author: settings.Author})
	session := editor.NewSession(receiver)
	receiver.SetEditID(session.ID())

	var changed, deleted []string
	opts := drive.Options{
		BaseRevision:   state.Revision,
		TargetRevision: types.InvalidRevision,
		DetectCopies:   settings.DetectCopies,
		Sender:         settings.Sender(),
		Notify: func(kind drive.ChangeKind, p string) {
			printChange(kind, p)
			switch kind {
			case drive.ChangeDelete:
				deleted = append(deleted, p)
			case drive.ChangeAbsent:
			default:
				changed = append(changed, p)
			}
		},
	}
	if err := drive.DriveTrees(session, base, target, opts); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	record, ok := receiver.Committed()
	if !ok {
		fmt.Println("✅ Nothing to commit.")
		return nil
	}

	// 4. Move the committed paths of the working copy to the new revision.
	tree, err := repository.Tree(record.ID)
	if err != nil {
		return err
	}
	if err := state.Committed(tree, record.ID, changed, deleted); err != nil {
		return fmt.Errorf("failed to record commit in working copy: %w", err)
	}
	if err := state.Save(absTargetPath); err != nil {
		return fmt.Errorf("failed to save working copy state: %w", err)
	}
	glog.Infof("commit %s: %d changed, %d deleted, edit %s", record.ID, len(changed), len(deleted), record.EditID)

	fmt.Println("✅ Commit complete!")
	fmt.Printf("   - Revision: %d\n", record.ID)
	fmt.Printf("   - Root Tree Hash: %s\n", record.RootTreeHash)
	return nil
}
