package cms

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes content types from reusable components.
type Kind string

const (
	KindCollectionType Kind = "collectionType"
	KindSingleType     Kind = "singleType"
	KindComponent      Kind = "component"
)

// ContentType describes one schema of the content registry.
type ContentType struct {
	UID         string            `json:"uid"`
	DisplayName string            `json:"displayName"`
	Kind        Kind              `json:"kind"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Entry is one stored document of a content type.
type Entry struct {
	ID          string         `json:"id"`
	ContentType string         `json:"contentType"`
	Data        map[string]any `json:"data"`
}

// Store is the content registry behind the MCP tools. When created with a file path, every write is
// persisted to that file as a JSON list of items and the file is loaded on creation.
type Store struct {
	path string

	mu      sync.Mutex
	types   []ContentType
	entries []Entry
}

type storeItem struct {
	Type string `json:"type"`

	// For Type == "contentType"
	ContentType *ContentType `json:"contentType,omitempty"`

	// For Type == "entry"
	Entry *Entry `json:"entry,omitempty"`
}

// DefaultContentTypes is the registry used when none is configured.
func DefaultContentTypes() []ContentType {
	return []ContentType{
		{
			UID:         "api::article.article",
			DisplayName: "Article",
			Kind:        KindCollectionType,
			Attributes:  map[string]string{"title": "string", "body": "richtext", "slug": "uid"},
		},
		{
			UID:         "api::author.author",
			DisplayName: "Author",
			Kind:        KindCollectionType,
			Attributes:  map[string]string{"name": "string", "bio": "text"},
		},
		{
			UID:         "api::homepage.homepage",
			DisplayName: "Homepage",
			Kind:        KindSingleType,
			Attributes:  map[string]string{"headline": "string"},
		},
		{
			UID:         "shared.seo",
			DisplayName: "Seo",
			Kind:        KindComponent,
			Attributes:  map[string]string{"metaTitle": "string", "metaDescription": "text"},
		},
	}
}

// NewStore creates a store seeded with types. If path is not empty and the file exists, its content
// replaces the seed.
func NewStore(path string, types []ContentType) (*Store, error) {
	s := &Store{
		path:  path,
		types: types,
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var items []storeItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file %s: %w", path, err)
	}

	s.types = nil
	for _, item := range items {
		switch {
		case item.Type == "contentType" && item.ContentType != nil:
			s.types = append(s.types, *item.ContentType)
		case item.Type == "entry" && item.Entry != nil:
			s.entries = append(s.entries, *item.Entry)
		}
	}

	return s, nil
}

// ContentTypes returns the registered content types and components, each sorted by UID.
func (s *Store) ContentTypes() (contentTypes []ContentType, components []ContentType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contentTypes = []ContentType{}
	components = []ContentType{}
	for _, ct := range s.types {
		if ct.Kind == KindComponent {
			components = append(components, ct)
			continue
		}
		contentTypes = append(contentTypes, ct)
	}

	sort.Slice(contentTypes, func(i, j int) bool { return contentTypes[i].UID < contentTypes[j].UID })
	sort.Slice(components, func(i, j int) bool { return components[i].UID < components[j].UID })

	return contentTypes, components
}

// Search returns up to limit entries of the content type uid whose string fields contain query,
// case-insensitively. An empty query matches every entry; a limit of zero or less means no limit.
func (s *Store) Search(uid, query string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(uid); !ok {
		return nil, fmt.Errorf("content type %s not found", uid)
	}

	query = strings.ToLower(query)
	matches := []Entry{}
	for _, e := range s.entries {
		if e.ContentType != uid {
			continue
		}
		if query != "" && !entryContains(e, query) {
			continue
		}
		matches = append(matches, e)
		if limit > 0 && len(matches) == limit {
			break
		}
	}

	return matches, nil
}

// Write stores a new entry of the content type uid. Only attributes declared by the content type are
// accepted.
func (s *Store) Write(uid string, data map[string]any) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, ok := s.lookup(uid)
	if !ok {
		return Entry{}, fmt.Errorf("content type %s not found", uid)
	}
	if ct.Kind == KindComponent {
		return Entry{}, fmt.Errorf("%s is a component and cannot be written directly", uid)
	}
	for field := range data {
		if _, ok := ct.Attributes[field]; !ok {
			return Entry{}, fmt.Errorf("content type %s has no attribute %s", uid, field)
		}
	}

	entry := Entry{
		ID:          uuid.New().String(),
		ContentType: uid,
		Data:        data,
	}
	s.entries = append(s.entries, entry)

	if err := s.save(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return Entry{}, err
	}

	return entry, nil
}

func (s *Store) lookup(uid string) (ContentType, bool) {
	for _, ct := range s.types {
		if ct.UID == uid {
			return ct, true
		}
	}
	return ContentType{}, false
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	items := make([]storeItem, 0, len(s.types)+len(s.entries))
	for i := range s.types {
		items = append(items, storeItem{Type: "contentType", ContentType: &s.types[i]})
	}
	for i := range s.entries {
		items = append(items, storeItem{Type: "entry", Entry: &s.entries[i]})
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	return os.WriteFile(s.path, itemsJSON, 0600)
}

func entryContains(e Entry, query string) bool {
	for _, v := range e.Data {
		str, ok := v.(string)
		if ok && strings.Contains(strings.ToLower(str), query) {
			return true
		}
	}
	return false
}
