package graph

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// journal is an append-only file of committed transactions, one JSON
// object per line. The first line holds the store id.
type journal struct {
	mu      sync.Mutex
	file    afero.File
	path    string
	storeID uuid.UUID
}

func journalPath(dir, db string) string {
	return filepath.Join(dir, db+".journal")
}

// openJournal opens or creates the journal of db and returns the records
// it already holds.
func openJournal(fs afero.Fs, dir, db string) (*journal, []commitRecord, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errors.Wrapf(err, "create data dir %s", dir)
	}

	path := journalPath(dir, db)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "stat journal %s", path)
	}

	if !exists {
		return createJournal(fs, path)
	}

	file, err := fs.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open journal %s", path)
	}

	j := &journal{file: file, path: path}
	records, err := j.replay()
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return j, records, nil
}

func createJournal(fs afero.Fs, path string) (*journal, []commitRecord, error) {
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create journal %s", path)
	}

	j := &journal{file: file, path: path, storeID: uuid.New()}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeHeader(e, journalHeader{StoreID: j.storeID, Version: journalVersion})
	if err := j.writeLine(e.Bytes()); err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return j, nil, nil
}

func (j *journal) replay() ([]commitRecord, error) {
	if _, err := j.file.Seek(0, 0); err != nil {
		return nil, errors.Wrap(err, "rewind journal")
	}

	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "read journal %s", j.path)
		}
		return nil, errors.Errorf("journal %s has no header", j.path)
	}
	header, err := decodeHeader(scanner.Bytes())
	if err != nil {
		return nil, err
	}
	j.storeID = header.StoreID

	var records []commitRecord
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r, err := decodeRecord(line)
		if err != nil {
			return nil, errors.Wrapf(err, "journal %s line %d", j.path, len(records)+2)
		}
		if r.Seq != uint64(len(records))+1 {
			return nil, errors.Errorf("journal %s: expected seq %d, got %d", j.path, len(records)+1, r.Seq)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read journal %s", j.path)
	}
	return records, nil
}

func (j *journal) append(r commitRecord) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	encodeRecord(e, r)
	return j.writeLine(e.Bytes())
}

func (j *journal) writeLine(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return errors.Wrapf(err, "append to journal %s", j.path)
	}
	if err := j.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync journal %s", j.path)
	}
	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Close(); err != nil {
		return errors.Wrapf(err, "close journal %s", j.path)
	}
	return nil
}
