package commands

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/lib"
)

// formatBytes is a utility to convert bytes into a human-readable string (KB, MB, GB).
func formatBytes(bytes int64, decimals int) string {
	if bytes == 0 {
		return "0 Bytes"
	}
	const k = 1024
	if decimals < 0 {
		decimals = 0
	}
	sizes := []string{"Bytes", "KB", "MB", "GB", "TB"}

	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}

	return fmt.Sprintf("%.*f %s", decimals, float64(bytes)/math.Pow(k, float64(i)), sizes[i])
}

// getStoredObjectsSize calculates the total size of all packfiles on disk.
func getStoredObjectsSize(baseDir string) (int64, error) {
	dirEntries, err := os.ReadDir(lib.GetPacksDir(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // No packs exist yet.
		}
		return 0, err
	}

	var totalSize int64
	for _, entry := range dirEntries {
		if !entry.IsDir() {
			info, err := entry.Info()
			if err != nil {
				continue // Skip files we can't get info for.
			}
			totalSize += info.Size()
		}
	}
	return totalSize, nil
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[len(id)-10:]
	}
	return id
}

// Log is the main function for the 'log' command. targetDirectory is a
// repository or a working copy of one.
func Log(targetDirectory string) error {
	repoDir, err := repositoryDir(targetDirectory)
	if err != nil {
		return err
	}

	// 1. Get all revisions, oldest first.
	records, err := lib.GetRevisions(repoDir)
	if err != nil {
		return fmt.Errorf("failed to get revisions: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("No revisions found for \"%s\".\n", repoDir)
		return nil
	}

	// 2. Calculate total stored size.
	totalStoredSize, err := getStoredObjectsSize(repoDir)
	if err != nil {
		return fmt.Errorf("failed to calculate stored size: %w", err)
	}

	// 3. Print the formatted table, youngest first.
	fmt.Printf("Revisions of \"%s\":\n", repoDir)
	fmt.Printf("%-10s %-10s %-22s %-12s %-12s %s\n", "REVISION", "BASE", "TIMESTAMP", "AUTHOR", "EDIT", "MESSAGE")
	fmt.Printf("%-10s %-10s %-22s %-12s %-12s %s\n", "========", "====", "=========", "======", "====", "=======")

	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		fmt.Printf("%-10s %-10s %-22s %-12s %-12s %s\n",
			strconv.FormatInt(int64(record.ID), 10),
			strconv.FormatInt(int64(record.BaseRevision), 10),
			record.Timestamp,
			record.Author,
			shortID(record.EditID),
			record.Message,
		)
	}

	fmt.Printf("\nTotal stored size of all objects: %s\n", formatBytes(totalStoredSize, 2))
	return nil
}
