// Package images keeps the product image registry: files on disk plus a JSON
// index used both for storage keys and for resolving [IMAGEN: ...] markers.
package images

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

type Entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Filename    string `json:"filename"`
	CreatedAt   string `json:"created_at"`
}

type Registry struct {
	dir string
	mu  sync.Mutex
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

var (
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSeparator = regexp.MustCompile(`[\s-]+`)
)

// Slugify derives the storage/lookup key from a title: accents stripped,
// lower-cased, non-alphanumerics collapsed to hyphens.
func Slugify(text string) string {
	decomposed := norm.NFKD.String(text)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	s := strings.ToLower(strings.TrimSpace(b.String()))
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSeparator.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Add stores the file under a slug-derived name and appends a registry entry.
func (r *Registry) Add(fileBytes []byte, originalFilename, title, description, tags string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir failed: %w", err)
	}

	id := uuid.NewString()[:8]
	slug := Slugify(title)
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if ext == "" {
		ext = ".jpg"
	}
	filename := fmt.Sprintf("%s-%s%s", slug, id, ext)

	if err := os.WriteFile(filepath.Join(r.dir, filename), fileBytes, 0o644); err != nil {
		return nil, fmt.Errorf("write image file failed: %w", err)
	}

	entry := Entry{
		ID:          id,
		Title:       title,
		Slug:        slug,
		Description: description,
		Tags:        tags,
		Filename:    filename,
		CreatedAt:   time.Now().Format(time.RFC3339),
	}

	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	entries = append(entries, entry)
	if err := r.save(entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Registry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// ResolveTitle fuzzy-matches a marker title against the registry: exact slug
// match wins, then substring containment either direction, then best word
// overlap (first entry wins ties, zero overlap is no match).
func (r *Registry) ResolveTitle(title string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	querySlug := Slugify(title)
	if querySlug == "" {
		return nil, nil
	}

	for i := range entries {
		if entries[i].Slug == querySlug {
			return &entries[i], nil
		}
	}

	for i := range entries {
		if strings.Contains(entries[i].Slug, querySlug) || strings.Contains(querySlug, entries[i].Slug) {
			return &entries[i], nil
		}
	}

	queryWords := wordSet(querySlug)
	var best *Entry
	bestOverlap := 0
	for i := range entries {
		overlap := 0
		for w := range wordSet(entries[i].Slug) {
			if _, ok := queryWords[w]; ok {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = &entries[i]
		}
	}
	return best, nil
}

// URL returns the public path an entry is served under.
func (r *Registry) URL(entry *Entry) string {
	return "/images/" + entry.Filename
}

// Dir is the on-disk directory entries are stored in.
func (r *Registry) Dir() string {
	return r.dir
}

// Delete removes the file and the registry entry; nil when the id is unknown.
func (r *Registry) Delete(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	var deleted *Entry
	kept := make([]Entry, 0, len(entries))
	for i := range entries {
		if entries[i].ID == id && deleted == nil {
			e := entries[i]
			deleted = &e
			continue
		}
		kept = append(kept, entries[i])
	}
	if deleted == nil {
		return nil, nil
	}

	_ = os.Remove(filepath.Join(r.dir, deleted.Filename))
	if err := r.save(kept); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.dir, "registry.json")
}

func (r *Registry) load() ([]Entry, error) {
	raw, err := os.ReadFile(r.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read image registry failed: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse image registry failed: %w", err)
	}
	return entries, nil
}

func (r *Registry) save(entries []Entry) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create images dir failed: %w", err)
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal image registry failed: %w", err)
	}
	if err := os.WriteFile(r.registryPath(), payload, 0o644); err != nil {
		return fmt.Errorf("write image registry failed: %w", err)
	}
	return nil
}

func wordSet(slug string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Split(slug, "-") {
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
