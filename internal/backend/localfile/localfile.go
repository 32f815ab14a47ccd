// Package localfile implements the "local-file" backend: every published
// message is appended to a text file as one line.  The receipt is the byte
// offset the line starts at.
package localfile

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/yanizio/treehole/internal/backend"
)

// Key is the registry type key.
const Key = "local-file"

// Params is the JSON shape of backend.params.
type Params struct {
	FileName string `json:"file-name" validate:"required"`
}

// Kind returns the registry entry.  Relative file names resolve against
// root.
func Kind(root string) backend.Kind {
	return backend.Kind{
		Key:   Key,
		Label: "Local file",
		Fields: []backend.Field{
			{Name: "file-name", Label: "File name", Type: "text", Required: true},
		},
		New: func(rec backend.Record) (backend.Publisher, error) {
			var p Params
			if err := backend.DecodeParams(rec, &p); err != nil {
				return nil, err
			}
			path := p.FileName
			if !filepath.IsAbs(path) {
				path = filepath.Join(root, path)
			}
			return &File{path: path, lock: lockFor(path)}, nil
		},
	}
}

// One lock per path, so that instances reloaded by the tenant cache still
// serialise appends to the same file.
var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	l, ok := locks[path]
	if !ok {
		l = &sync.Mutex{}
		locks[path] = l
	}
	return l
}

// File appends messages to one file.
type File struct {
	path string
	lock *sync.Mutex
}

// Publish appends text.  Newlines inside text are kept; the entry is
// terminated by one more.
func (f *File) Publish(ctx context.Context, text string, _ url.Values) backend.Result {
	if err := ctx.Err(); err != nil {
		return backend.Rejected(err)
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return backend.Rejected(fmt.Errorf("open %s: %w", f.path, err))
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return backend.Rejected(fmt.Errorf("stat %s: %w", f.path, err))
	}
	line := text
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := fh.WriteString(line); err != nil {
		return backend.Rejected(fmt.Errorf("append %s: %w", f.path, err))
	}
	return backend.Published(strconv.FormatInt(st.Size(), 10))
}
