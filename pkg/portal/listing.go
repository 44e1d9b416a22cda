package portal

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ligustah/portal/pkg/archive"
)

// Item is one entry of a directory listing.
type Item struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Breadcrumb links one ancestor of a listed directory.
type Breadcrumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Listing is the content of one directory.
type Listing struct {
	Path        string       `json:"path"`
	Items       []Item       `json:"items"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
}

// List returns the visible entries of a directory, sorted by name. A path
// that is invalid, missing or not a directory lists the root instead.
func (s *Service) List(p string) (*Listing, error) {
	rel, err := s.Resolve(p)
	if err != nil {
		rel = "."
	}
	if rel != "." {
		info, err := s.root.Stat(rel)
		if err != nil || !info.IsDir() {
			rel = "."
		}
	}

	infos, err := s.root.ReadDir(rel)
	if err != nil {
		return nil, fmt.Errorf("portal: list %s: %w", rel, err)
	}

	items := make([]Item, 0, len(infos))
	for _, info := range infos {
		if archive.IsHidden(info.Name()) {
			continue
		}
		item := Item{
			Name:     info.Name(),
			Path:     path.Join(rel, info.Name()),
			IsDir:    info.IsDir(),
			Modified: info.ModTime(),
		}
		if !item.IsDir {
			item.Size = info.Size()
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	l := &Listing{Path: "", Items: items, Breadcrumbs: []Breadcrumb{}}
	if rel != "." {
		l.Path = rel
		parts := strings.Split(rel, "/")
		for i, part := range parts {
			l.Breadcrumbs = append(l.Breadcrumbs, Breadcrumb{
				Name: part,
				Path: strings.Join(parts[:i+1], "/"),
			})
		}
	}
	return l, nil
}
