package paramstores

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
)

// FileAdapter is a net param store implementation that uses the filesystem, one JSON file per snapshot. It is what
// the offline trainer writes to by default
type FileAdapter struct {
	Path string
}

// NewFileAdapter returns an initialized file net param store object, the directory is created if needed
func NewFileAdapter(conf map[string]interface{}) (*FileAdapter, error) {
	path, ok := conf["Path"].(string)
	if !ok || path == "" {
		return nil, errors.New("the file net param store requires a Path")
	}
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return nil, err
	}
	return &FileAdapter{Path: path}, nil
}

func (fa FileAdapter) file(id string) string {
	return filepath.Join(fa.Path, filepath.Base(id)+".json")
}

// Delete can be used to delete a snapshot from disk, deleting a snapshot that doesn't exist isn't an error
func (fa FileAdapter) Delete(id string) error {
	err := os.Remove(fa.file(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List can be used to page through the IDs of the stored snapshots that match the pattern, the returned cursor is the
// offset of the next page or 0 when there is nothing left
func (fa FileAdapter) List(offset, limit int, pattern string) ([]string, int, error) {
	files, err := ioutil.ReadDir(fa.Path)
	if err != nil {
		return nil, 0, err
	}
	ids := []string{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := file.Name()[:len(file.Name())-len(".json")]
		match, err := filepath.Match(pattern, id)
		if err != nil {
			return nil, 0, err
		}
		if match {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return []string{}, 0, nil
	}
	end := offset + limit
	if limit <= 0 || end >= len(ids) {
		return ids[offset:], 0, nil
	}
	return ids[offset:end], end, nil
}

// Load can be used to retrieve a snapshot from disk
func (fa FileAdapter) Load(id string, np NetParams) (bool, error) {
	value, err := ioutil.ReadFile(fa.file(id))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	err = np.Unmarshal(value)
	return true, err
}

// Save can be used to upsert a snapshot. The content is written to a temporary file first and then renamed so readers
// never see a partial snapshot
func (fa FileAdapter) Save(id string, np NetParams) error {
	value, err := np.Marshal()
	if err != nil {
		return err
	}
	f, err := ioutil.TempFile(fa.Path, ".tmp-"+filepath.Base(id)+"-*")
	if err != nil {
		return err
	}
	_, err = f.Write(value)
	if err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), fa.file(id))
}
