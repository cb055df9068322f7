// Package category keeps the two-level category catalog in memory.
//
// A category is identified by its full path, "Parent:Name" or a bare
// "Name" for top-level entries. Paths are unique; a child cannot have
// children of its own.
package category

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/model"
)

// DefaultFrequentLimit is the number of categories Frequent returns when
// asked for zero or fewer.
const DefaultFrequentLimit = 15

var (
	ErrNotFound           = errors.New("category not found")
	ErrExists             = errors.New("category already exists")
	ErrInvalidPath        = errors.New("invalid category path")
	ErrTooDeep            = errors.New("categories are limited to two levels")
	ErrInvalidReplacement = errors.New("invalid replacement category")
)

// ParsePath splits a catalog line into parent and name. The split is on the
// first separator; both halves are trimmed. ok is false for blank lines and
// '#' comments.
func ParsePath(line string) (parent, name string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	parent, name = model.SplitPath(line)
	parent = strings.TrimSpace(parent)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", false
	}
	return parent, name, true
}

// Index is a concurrency-safe category registry with usage counters.
type Index struct {
	mu    sync.RWMutex
	paths map[string]*model.Category
}

// NewIndex returns an index holding cats.
func NewIndex(cats ...model.Category) *Index {
	idx := &Index{paths: make(map[string]*model.Category, len(cats))}
	for _, c := range cats {
		c := c
		c.FullPath = model.JoinPath(c.Parent, c.Name)
		idx.paths[c.FullPath] = &c
	}
	return idx
}

// Reset replaces the whole catalog with cats.
func (idx *Index) Reset(cats ...model.Category) {
	fresh := NewIndex(cats...)
	idx.mu.Lock()
	idx.paths = fresh.paths
	idx.mu.Unlock()
}

// Add registers fullPath. A missing parent is created. Adding an existing
// path returns ErrExists.
func (idx *Index) Add(fullPath string) (model.Category, error) {
	parent, name, ok := ParsePath(fullPath)
	if !ok {
		return model.Category{}, fmt.Errorf("%w: %q", ErrInvalidPath, fullPath)
	}
	if strings.Contains(name, model.PathSeparator) {
		return model.Category{}, fmt.Errorf("%w: %q", ErrTooDeep, fullPath)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	path := model.JoinPath(parent, name)
	if _, exists := idx.paths[path]; exists {
		return model.Category{}, fmt.Errorf("%w: %q", ErrExists, path)
	}

	if parent != "" {
		p, exists := idx.paths[parent]
		if exists && p.Parent != "" {
			return model.Category{}, fmt.Errorf("%w: %q", ErrTooDeep, path)
		}
		if !exists {
			idx.paths[parent] = &model.Category{Name: parent, FullPath: parent}
		}
	}

	c := &model.Category{Parent: parent, Name: name, FullPath: path}
	idx.paths[path] = c
	return *c, nil
}

// Get returns the category at fullPath.
func (idx *Index) Get(fullPath string) (model.Category, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c, ok := idx.paths[fullPath]
	if !ok {
		return model.Category{}, false
	}
	return *c, true
}

// Exists reports whether fullPath is registered.
func (idx *Index) Exists(fullPath string) bool {
	_, ok := idx.Get(fullPath)
	return ok
}

// Len returns the number of categories.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.paths)
}

// All returns every category sorted by full path.
func (idx *Index) All() []model.Category {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]model.Category, 0, len(idx.paths))
	for _, c := range idx.paths {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FullPath < result[j].FullPath
	})
	return result
}

// Children returns the direct children of parent sorted by name.
func (idx *Index) Children(parent string) []model.Category {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result []model.Category
	for _, c := range idx.paths {
		if c.Parent == parent && parent != "" {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Frequent returns up to limit used categories, most used first and ties by
// path. Categories never used are left out.
func (idx *Index) Frequent(limit int) []model.Category {
	if limit <= 0 {
		limit = DefaultFrequentLimit
	}

	idx.mu.RLock()
	result := make([]model.Category, 0, len(idx.paths))
	for _, c := range idx.paths {
		if c.Usage > 0 {
			result = append(result, *c)
		}
	}
	idx.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Usage != result[j].Usage {
			return result[i].Usage > result[j].Usage
		}
		return result[i].FullPath < result[j].FullPath
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Touch increments the usage counter of fullPath.
func (idx *Index) Touch(fullPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.paths[fullPath]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, fullPath)
	}
	c.Usage++
	return nil
}

// Rename moves oldPath to newParent:newName. Children of a renamed parent
// move with it. The returned map lists every path that changed, old to new,
// so records and rules can be rewritten.
func (idx *Index) Rename(oldPath, newParent, newName string) (map[string]string, error) {
	newParent = strings.TrimSpace(newParent)
	newName = strings.TrimSpace(newName)
	if newName == "" || strings.Contains(newName, model.PathSeparator) || strings.Contains(newParent, model.PathSeparator) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, model.JoinPath(newParent, newName))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.paths[oldPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, oldPath)
	}

	newPath := model.JoinPath(newParent, newName)
	if newPath == oldPath {
		return map[string]string{}, nil
	}
	if _, exists := idx.paths[newPath]; exists {
		return nil, fmt.Errorf("%w: %q", ErrExists, newPath)
	}

	children := idx.childrenLocked(oldPath)
	if newParent != "" {
		if len(children) > 0 {
			return nil, fmt.Errorf("%w: %q has children", ErrTooDeep, oldPath)
		}
		if newParent == oldPath {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, newPath)
		}
		if p, exists := idx.paths[newParent]; exists && p.Parent != "" {
			return nil, fmt.Errorf("%w: %q", ErrTooDeep, newPath)
		}
	}

	moved := map[string]string{oldPath: newPath}

	delete(idx.paths, oldPath)
	c.Parent, c.Name, c.FullPath = newParent, newName, newPath
	idx.paths[newPath] = c

	for _, child := range children {
		childNew := model.JoinPath(newPath, child.Name)
		moved[child.FullPath] = childNew
		delete(idx.paths, child.FullPath)
		child.Parent, child.FullPath = newPath, childNew
		idx.paths[childNew] = child
	}

	if newParent != "" {
		if _, exists := idx.paths[newParent]; !exists {
			idx.paths[newParent] = &model.Category{Name: newParent, FullPath: newParent}
		}
	}

	return moved, nil
}

// Remove deletes fullPath and its children. Records referencing them must
// move to replacement, which has to exist and must not be removed with them.
// The returned map lists old path to replacement for every removed path.
func (idx *Index) Remove(fullPath, replacement string) (map[string]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.paths[fullPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, fullPath)
	}

	repl, ok := idx.paths[replacement]
	if !ok || replacement == fullPath || repl.Parent == fullPath {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReplacement, replacement)
	}

	migrated := map[string]string{fullPath: replacement}
	for _, child := range idx.childrenLocked(fullPath) {
		migrated[child.FullPath] = replacement
		delete(idx.paths, child.FullPath)
	}
	delete(idx.paths, c.FullPath)

	return migrated, nil
}

func (idx *Index) childrenLocked(parent string) []*model.Category {
	var result []*model.Category
	for _, c := range idx.paths {
		if c.Parent == parent {
			result = append(result, c)
		}
	}
	return result
}

// Import reads a category catalog, one path per line. The file is decoded
// as UTF-8 when valid and as ISO-8859-1 otherwise. Existing paths are
// skipped; the number of added categories is returned, parents included.
func (idx *Index) Import(r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}
	text, _ := ingest.DecodeText(raw)

	before := idx.Len()

	sc := bufio.NewScanner(strings.NewReader(text))
	for line := 1; sc.Scan(); line++ {
		parent, name, ok := ParsePath(sc.Text())
		if !ok {
			continue
		}
		_, err := idx.Add(model.JoinPath(parent, name))
		if err != nil && !errors.Is(err, ErrExists) {
			return idx.Len() - before, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return idx.Len() - before, fmt.Errorf("scan catalog: %w", err)
	}

	return idx.Len() - before, nil
}
