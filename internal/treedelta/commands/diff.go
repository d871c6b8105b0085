package commands

import (
	"fmt"
	"io"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/drive"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/editor"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/trace"
)

// Diff is the main function for the 'diff' command. It drives the edit
// turning one revision into another into a trace and writes it to w, as
// yaml or as a status listing.
func Diff(targetDirectory, fromIdentifier, toIdentifier string, asYAML bool, w io.Writer) error {
	repoDir, err := repositoryDir(targetDirectory)
	if err != nil {
		return err
	}
	repository, err := openRepository(repoDir)
	if err != nil {
		return err
	}
	settings, err := lib.LoadSettings(repoDir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// 1. Resolve both ends.
	from, err := resolveRevision(repository, fromIdentifier)
	if err != nil {
		return err
	}
	to, err := resolveRevision(repository, toIdentifier)
	if err != nil {
		return err
	}
	base, err := repository.Tree(from)
	if err != nil {
		return err
	}
	target, err := repository.Tree(to)
	if err != nil {
		return err
	}

	// 2. Record the edit.
	receiver := trace.NewReceiver(base.Contents)
	err = drive.DriveTrees(editor.NewSession(receiver), base, target, drive.Options{
		BaseRevision:   from,
		TargetRevision: to,
		DetectCopies:   settings.DetectCopies,
		Sender:         settings.Sender(),
	})
	if err != nil {
		return fmt.Errorf("diff failed: %w", err)
	}

	// 3. Print it.
	if asYAML {
		return receiver.WriteYAML(w)
	}
	_, err = io.WriteString(w, receiver.Summary())
	return err
}

// RevisionIdentifiers lists "id\tmessage" for each revision of the
// repository a directory refers to, youngest first, for shell completion.
func RevisionIdentifiers(targetDirectory string) ([]string, error) {
	repoDir, err := repositoryDir(targetDirectory)
	if err != nil {
		return nil, err
	}
	records, err := lib.GetRevisions(repoDir)
	if err != nil {
		return nil, err
	}
	suggestions := []string{"HEAD\tyoungest revision"}
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		suggestions = append(suggestions, fmt.Sprintf("%d\t%s %s - %s", record.ID, record.Timestamp, record.Author, record.Message))
	}
	return suggestions, nil
}
