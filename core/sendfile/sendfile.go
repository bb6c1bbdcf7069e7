// Package sendfile keeps file descriptors for static responses open
// across requests: core/http.ServeFile draws from the LRU cache here
// before attaching a respbuild.FileContent to a response. The
// zero-copy write itself lives in internal/conn's body iterator
// (syscall.Sendfile on a plain connection, a buffered pread loop
// under TLS) since it needs the destination connection's FD; this
// package only owns the open-file lifetime.
package sendfile

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"
)

// FileCache is a bounded map of open *os.File handles with
// least-recently-used eviction. All operations take one mutex; a Get
// is a map hit plus a list splice, nowhere near the cost of the
// open(2) it saves.
type FileCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used; values are *cachedFile
	maxFiles int
}

type cachedFile struct {
	path string
	file *os.File
}

// NewFileCache builds a cache holding at most maxFiles open handles.
func NewFileCache(maxFiles int) *FileCache {
	if maxFiles <= 0 {
		maxFiles = 128
	}
	return &FileCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxFiles: maxFiles,
	}
}

// Get returns the cached open file for path, opening and caching it
// on a miss. The returned *os.File is shared: callers read it only
// through offset-carrying calls (pread, sendfile with an explicit
// offset) and never Close it themselves.
func (fc *FileCache) Get(path string) (*os.File, error) {
	fc.mu.Lock()
	if el, ok := fc.entries[path]; ok {
		fc.order.MoveToFront(el)
		f := el.Value.(*cachedFile).file
		fc.mu.Unlock()
		return f, nil
	}
	fc.mu.Unlock()

	// Open outside the lock; racing opens of the same path settle
	// below with the loser's handle closed.
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if el, ok := fc.entries[path]; ok {
		file.Close()
		fc.order.MoveToFront(el)
		return el.Value.(*cachedFile).file, nil
	}

	fc.entries[path] = fc.order.PushFront(&cachedFile{path: path, file: file})
	if fc.order.Len() > fc.maxFiles {
		fc.evictOldest()
	}
	return file, nil
}

// evictOldest drops the least-recently-used handle; callers hold the
// mutex.
func (fc *FileCache) evictOldest() {
	oldest := fc.order.Back()
	if oldest == nil {
		return
	}
	cf := oldest.Value.(*cachedFile)
	cf.file.Close()
	delete(fc.entries, cf.path)
	fc.order.Remove(oldest)
}

// Close drops every cached handle.
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for el := fc.order.Front(); el != nil; el = el.Next() {
		el.Value.(*cachedFile).file.Close()
	}
	fc.entries = make(map[string]*list.Element)
	fc.order.Init()
}

// contentTypes maps file extensions onto the Content-Type a static
// response for them carries.
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
}

// GetContentType maps filename's extension onto a Content-Type,
// defaulting to application/octet-stream.
func GetContentType(filename string) string {
	if ct, ok := contentTypes[filepath.Ext(filename)]; ok {
		return ct
	}
	return "application/octet-stream"
}
