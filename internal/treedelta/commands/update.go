package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/drive"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/repo"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/wc"
)

// updateWorkingCopy reports the working copy in dir to an update server and
// applies the edit it answers with.
func updateWorkingCopy(dir string, state *wc.State, repository *repo.Repository, target types.Revision) (*wc.State, error) {
	settings, err := lib.LoadSettings(repository.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	receiver, err := wc.NewReceiver(dir, state, repository.TreeSourceAt)
	if err != nil {
		return nil, err
	}
	session := editor.NewSession(receiver)
	server := drive.NewUpdateServer(session, repository.TreeSourceAt, target, drive.Options{
		DetectCopies: settings.DetectCopies,
		Sender:       settings.Sender(),
		Notify:       printChange,
	})
	if err := wc.Crawl(dir, state, editor.NewReporter(server)); err != nil {
		return nil, err
	}
	return receiver.State(), nil
}

// Update is the main function for the 'update' command. It brings the
// working copy in targetDirectory to a revision of its repository.
func Update(targetDirectory, revIdentifier string) error {
	absTargetPath, err := resolveDir(targetDirectory)
	if err != nil {
		return err
	}
	state, err := wc.LoadState(absTargetPath)
	if err != nil {
		return err
	}
	repository, err := openRepository(state.Repository)
	if err != nil {
		return err
	}
	target, err := resolveRevision(repository, revIdentifier)
	if err != nil {
		return err
	}

	fmt.Printf("🔄 Updating \"%s\" from r%d to r%d...\n", absTargetPath, state.Revision, target)
	if _, err := updateWorkingCopy(absTargetPath, state, repository, target); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Println("✅ Update complete!")
	return nil
}

// Checkout is the main function for the 'checkout' command. It creates a
// working copy of a revision of the repository in sourceDir.
func Checkout(sourceDir, revIdentifier, outputDir string) error {
	absSourceDir, err := resolveDir(sourceDir)
	if err != nil {
		return err
	}
	repository, err := openRepository(absSourceDir)
	if err != nil {
		return err
	}
	target, err := resolveRevision(repository, revIdentifier)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	absOutputDir, err := resolveDir(outputDir)
	if err != nil {
		return err
	}
	if _, err := wc.LoadState(absOutputDir); err == nil {
		return fmt.Errorf("%s is already a working copy, use update instead", absOutputDir)
	} else if !errors.Is(err, wc.ErrNotWorkingCopy) {
		return err
	}

	fmt.Printf("💧 Checking out r%d of \"%s\" to \"%s\"...\n", target, absSourceDir, absOutputDir)
	state, err := updateWorkingCopy(absOutputDir, wc.NewState(absSourceDir), repository, target)
	if err != nil {
		return fmt.Errorf("checkout failed: %w", err)
	}
	fmt.Printf("✅ Checkout complete! %d paths at r%d.\n", len(state.Entries), state.Revision)
	return nil
}
