package store

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/videosource"
	"github.com/jonoton/go-dir"
	"gocv.io/x/gocv"
)

// DefaultDirectory is where plate images go when none is configured
const DefaultDirectory = "/tmp/"

const imageExt = ".jpg"

// Store saves detection frames as jpg files and prunes old ones.
// Only files named like the plates of its site are pruned.
type Store struct {
	saveDirectory    string
	plateRegex       string
	deleteAfterHours int
	deleteAfterGB    int
}

// PlateRegex matches the image files of siteID, <site>-cam<N>-<epochms>-<seq>.jpg
func PlateRegex(siteID string) string {
	return fmt.Sprintf("^%s-cam[0-9]+-[0-9]+-[0-9]+%s$", regexp.QuoteMeta(siteID), regexp.QuoteMeta(imageExt))
}

// NewStore creates a new Store, creating the directory
func NewStore(saveDirectory string, siteID string, deleteAfterHours int, deleteAfterGB int) (*Store, error) {
	if saveDirectory == "" {
		saveDirectory = DefaultDirectory
	}
	saveDirectory = filepath.Clean(saveDirectory)
	if err := os.MkdirAll(saveDirectory, 0755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", saveDirectory, err)
	}
	s := &Store{
		saveDirectory:    saveDirectory,
		plateRegex:       PlateRegex(siteID),
		deleteAfterHours: deleteAfterHours,
		deleteAfterGB:    deleteAfterGB,
	}
	return s, nil
}

// Directory returns where images are saved
func (s *Store) Directory() string {
	return s.saveDirectory
}

// Path returns the file used for id
func (s *Store) Path(id string) string {
	return filepath.Join(s.saveDirectory, id+imageExt)
}

// Save writes frame as <id>.jpg and returns its path
func (s *Store) Save(id string, frame videosource.Frame) (string, error) {
	if !frame.IsValid() {
		return "", fmt.Errorf("save %s: invalid frame", id)
	}
	path := s.Path(id)
	if !gocv.IMWrite(path, frame.Mat) {
		return "", fmt.Errorf("save %s: write failed", path)
	}
	return path, nil
}

// Prune removes expired images and the oldest ones above the size limit
func (s *Store) Prune() {
	if s.deleteAfterHours > 0 {
		s.deleteOldImages()
	}
	if s.deleteAfterGB > 0 {
		s.deleteWhenFull()
	}
}

func (s *Store) deleteOldImages() {
	expiredFiles, err := dir.Expired(s.saveDirectory, s.plateRegex,
		time.Now(), time.Duration(s.deleteAfterHours)*time.Hour)
	if err != nil {
		log.Warnln("Store could not list expired images", err)
	}
	for _, fileInfo := range expiredFiles {
		s.remove(fileInfo)
	}
}

func (s *Store) deleteWhenFull() {
	dirSize, _ := dir.Size(s.saveDirectory, s.plateRegex)
	if int(math.Ceil(dir.BytesToGigaBytes(dirSize))) > s.deleteAfterGB {
		files, _ := dir.List(s.saveDirectory, s.plateRegex)
		sort.Sort(dir.AscendingTime(files))
		for _, fileInfo := range files {
			if int(math.Ceil(dir.BytesToGigaBytes(dirSize))) <= s.deleteAfterGB {
				break
			}
			dirSize -= uint64(fileInfo.Size())
			s.remove(fileInfo)
		}
	}
}

func (s *Store) remove(fileInfo os.FileInfo) {
	fullPath := filepath.Join(s.saveDirectory, fileInfo.Name())
	if err := os.Remove(fullPath); err != nil {
		log.Errorln(err)
	}
}
