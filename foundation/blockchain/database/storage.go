package database

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"sync"
)

// JSONStorage is a Serializer that appends every block to a single
// newline-delimited JSON file. Simple and fast to append to; reading a
// single block by number requires a full scan.
type JSONStorage struct {
	dbPath string
	mu     sync.RWMutex
	dbFile *os.File
}

// NewJSONStorage opens (creating if necessary) the append-only block log at
// dbPath.
func NewJSONStorage(dbPath string) (*JSONStorage, error) {
	dbFile, err := os.OpenFile(dbPath, os.O_APPEND|os.O_RDWR, 0600)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		dbFile, err = os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0600)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &JSONStorage{dbFile: dbFile, dbPath: dbPath}, nil
}

// Write appends the block to the log.
func (s *JSONStorage) Write(blockData BlockData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	_, err = s.dbFile.Write(append(data, '\n'))
	return err
}

// GetBlock scans the log for the block at the given height.
func (s *JSONStorage) GetBlock(num uint64) (BlockData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.dbFile.Seek(0, 0); err != nil {
		return BlockData{}, err
	}

	scanner := bufio.NewScanner(s.dbFile)
	for scanner.Scan() {
		var blockData BlockData
		if err := json.Unmarshal(scanner.Bytes(), &blockData); err != nil {
			return BlockData{}, err
		}
		if blockData.Header.Number == num {
			return blockData, nil
		}
	}

	return BlockData{}, fs.ErrNotExist
}

// ForEach returns an iterator that walks the log from the beginning.
func (s *JSONStorage) ForEach() Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.dbFile.Seek(0, 0)
	return &jsonIterator{scanner: bufio.NewScanner(s.dbFile)}
}

// Close closes the underlying file.
func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dbFile.Close()
}

// Reset truncates the log back to empty.
func (s *JSONStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dbFile.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.dbPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	dbFile, err := os.OpenFile(s.dbPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	s.dbFile = dbFile

	return nil
}

type jsonIterator struct {
	scanner *bufio.Scanner
	done    bool
}

func (i *jsonIterator) Next() (BlockData, error) {
	if i.done {
		return BlockData{}, nil
	}

	if !i.scanner.Scan() {
		i.done = true
		return BlockData{}, nil
	}

	var blockData BlockData
	if err := json.Unmarshal(i.scanner.Bytes(), &blockData); err != nil {
		return BlockData{}, err
	}

	return blockData, nil
}

func (i *jsonIterator) Done() bool {
	return i.done
}

// =============================================================================

// FilesStorage is a Serializer that writes one JSON file per block, named
// by block number. Slower to bulk-scan but trivial to random-access a
// single block and to inspect by hand.
type FilesStorage struct {
	dbPath string
}

// NewFilesStorage constructs a FilesStorage rooted at dbPath, creating the
// directory if necessary.
func NewFilesStorage(dbPath string) (*FilesStorage, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &FilesStorage{dbPath: dbPath}, nil
}

func (s *FilesStorage) getPath(blockNum uint64) string {
	return path.Join(s.dbPath, fmt.Sprintf("%s.json", strconv.FormatUint(blockNum, 10)))
}

// Write stores the block under a file named by its height.
func (s *FilesStorage) Write(blockData BlockData) error {
	data, err := json.MarshalIndent(blockData, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.getPath(blockData.Header.Number), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// GetBlock reads the block file for the specified number.
func (s *FilesStorage) GetBlock(num uint64) (BlockData, error) {
	f, err := os.OpenFile(s.getPath(num), os.O_RDONLY, 0600)
	if err != nil {
		return BlockData{}, err
	}
	defer f.Close()

	var blockData BlockData
	err = json.NewDecoder(f).Decode(&blockData)
	return blockData, err
}

// ForEach returns an iterator that walks block files starting at height 1.
func (s *FilesStorage) ForEach() Iterator {
	return &filesIterator{s: s}
}

// Close is a no-op: each block file is opened, written, and closed
// immediately.
func (s *FilesStorage) Close() error {
	return nil
}

// Reset removes every block file under the storage root.
func (s *FilesStorage) Reset() error {
	entries, err := os.ReadDir(s.dbPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.Remove(path.Join(s.dbPath, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

type filesIterator struct {
	s       *FilesStorage
	current uint64
	done    bool
}

func (i *filesIterator) Next() (BlockData, error) {
	if i.done {
		return BlockData{}, nil
	}

	i.current++
	blockData, err := i.s.GetBlock(i.current)
	if errors.Is(err, fs.ErrNotExist) {
		i.done = true
		return BlockData{}, nil
	}

	return blockData, err
}

func (i *filesIterator) Done() bool {
	return i.done
}
