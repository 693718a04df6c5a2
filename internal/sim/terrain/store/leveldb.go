package store

import (
	"errors"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const levelPrefix = "chunk/"

// LevelDB keeps chunks as values under "chunk/<name>" in a leveldb database.
type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Read(name string) ([]byte, error) {
	b, err := l.db.Get([]byte(levelPrefix+name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return b, err
}

func (l *LevelDB) Write(name string, data []byte) error {
	return l.db.Put([]byte(levelPrefix+name), data, nil)
}

func (l *LevelDB) Names() ([]string, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(levelPrefix)), nil)
	defer iter.Release()
	var out []string
	for iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), levelPrefix))
	}
	return out, iter.Error()
}

func (l *LevelDB) Close() error { return l.db.Close() }
