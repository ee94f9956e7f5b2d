package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// chromem names collection directories by an 8-char hash prefix.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// chromem's per-collection metadata file.
const collectionMetadataFile = "00000000.gob"

// NewResilientChromemDB opens a persistent chromem DB. A collection directory
// that holds documents but lost its metadata file (an interrupted write)
// makes chromem refuse to load; such directories are moved to .quarantine
// and the load is retried so one broken collection can't take down the index.
func NewResilientChromemDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	broken, findErr := findBrokenCollections(path, logger)
	if findErr != nil || len(broken) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantine, 0755); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	for _, dir := range broken {
		src, dst := filepath.Join(path, dir), filepath.Join(quarantine, dir)
		if mvErr := os.Rename(src, dst); mvErr != nil {
			logger.Error("failed to quarantine collection", zap.String("dir", dir), zap.Error(mvErr))
			continue
		}
		logger.Warn("quarantined collection with missing metadata", zap.String("dir", dir), zap.String("to", dst))
	}
	quarantinedTotal.Add(float64(len(broken)))

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading chromem DB after quarantine: %w", err)
	}
	return db, nil
}

func findBrokenCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var broken []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, collectionMetadataFile)); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("cannot read collection directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				broken = append(broken, entry.Name())
				break
			}
		}
	}
	return broken, nil
}
