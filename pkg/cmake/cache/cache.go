// Package cache reads and writes the CMakeCache.txt format: one NAME:TYPE=VALUE entry per
// line, preceded by optional // doc lines, with # comment lines in between. The
// NAME-ADVANCED and NAME-STRINGS entries CMake uses for GUI bookkeeping are folded into
// flags on the entry they annotate instead of surfacing as entries of their own.
package cache

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// EntryType is the type tag a cache entry was declared with.
type EntryType int

const (
	EntryType_Bool EntryType = iota
	EntryType_String
	EntryType_Path
	EntryType_FilePath
	EntryType_Internal
	EntryType_Uninitialized
	EntryType_Static
)

// String returns the tag as spelled in the cache file.
func (t EntryType) String() string {
	switch t {
	case EntryType_Bool:
		return "BOOL"
	case EntryType_String:
		return "STRING"
	case EntryType_Path:
		return "PATH"
	case EntryType_FilePath:
		return "FILEPATH"
	case EntryType_Internal:
		return "INTERNAL"
	case EntryType_Uninitialized:
		return "UNINITIALIZED"
	case EntryType_Static:
		return "STATIC"
	default:
		return ""
	}
}

// ParseEntryType maps a tag from the cache file to an EntryType.
func ParseEntryType(tag string) (EntryType, bool) {
	switch tag {
	case "BOOL":
		return EntryType_Bool, true
	case "STRING":
		return EntryType_String, true
	case "PATH":
		return EntryType_Path, true
	case "FILEPATH":
		return EntryType_FilePath, true
	case "INTERNAL":
		return EntryType_Internal, true
	case "UNINITIALIZED":
		return EntryType_Uninitialized, true
	case "STATIC":
		return EntryType_Static, true
	default:
		return EntryType_Uninitialized, false
	}
}

// Entry is one cache variable.
type Entry struct {
	Key   string
	Type  EntryType
	Value string

	// Doc is the accumulated // docstring preceding the entry
	Doc string

	// Advanced mirrors the KEY-ADVANCED bookkeeping entry
	Advanced bool

	// Choices mirrors the KEY-STRINGS bookkeeping entry, the allowed values a GUI
	// should offer for this variable
	Choices []string
}

// AsBool coerces the entry value through CMake's truthiness rules.
func (e *Entry) AsBool() bool {
	return IsTruthy(e.Value)
}

// IsTruthy applies CMake's boolean coercion: empty, 0, NO, FALSE, OFF, N, IGNORE,
// NOTFOUND and anything ending in -NOTFOUND are false, case-insensitively; every other
// value is true.
func IsTruthy(value string) bool {
	upper := strings.ToUpper(value)

	switch upper {
	case "", "0", "NO", "FALSE", "OFF", "N", "IGNORE", "NOTFOUND":
		return false
	}

	return !strings.HasSuffix(upper, "-NOTFOUND")
}

// Cache is an ordered snapshot of cache entries, keyed by name.
type Cache struct {
	entries map[string]*Entry
	order   []string
}

var ErrMalformedLine = errors.New("malformed cache line")

var entryPattern = regexp.MustCompile(`^([^:]+):([A-Za-z]+)=(.*)$`)

// Parse reads cache text into a Cache. Any line that is not a comment, a doc line or a
// well formed NAME:TYPE=VALUE entry fails the parse; silent dropping would hide a
// corrupted cache from the user.
func Parse(text string) (*Cache, error) {
	cache := &Cache{entries: map[string]*Entry{}}

	advanced := map[string]bool{}
	choices := map[string][]string{}

	doc := ""
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)

	for number, line := range strings.Split(normalized, "\n") {
		// CMake writes entries at column zero; stray indentation is tolerated
		line = strings.TrimLeft(line, " \t")

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "//") {
			if doc != "" {
				doc += " "
			}
			doc += line[2:]
			continue
		}

		match := entryPattern.FindStringSubmatch(line)
		if match == nil {
			return nil, utils.MakeError(ErrMalformedLine, "line %d: %q", number+1, line)
		}

		key, tag, value := match[1], match[2], match[3]

		// GUI bookkeeping entries annotate another entry instead of standing on
		// their own
		if base, found := strings.CutSuffix(key, "-ADVANCED"); found && base != "" {
			advanced[base] = IsTruthy(value)
			doc = ""
			continue
		}

		if base, found := strings.CutSuffix(key, "-STRINGS"); found && base != "" {
			choices[base] = strings.Split(value, ";")
			doc = ""
			continue
		}

		entryType, ok := ParseEntryType(tag)
		if !ok {
			return nil, utils.MakeError(ErrMalformedLine, "line %d: unknown entry type %q", number+1, tag)
		}

		cache.put(&Entry{
			Key:   key,
			Type:  entryType,
			Value: value,
			Doc:   doc,
		})
		doc = ""
	}

	for key, flag := range advanced {
		if entry, ok := cache.entries[key]; ok {
			entry.Advanced = flag
		}
	}

	for key, values := range choices {
		if entry, ok := cache.entries[key]; ok {
			entry.Choices = values
		}
	}

	return cache, nil
}

// Load reads and parses a cache file.
func Load(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	cache, err := Parse(string(data))
	if err != nil {
		return nil, utils.MakeError(err, "in %v", path)
	}

	return cache, nil
}

func (c *Cache) put(entry *Entry) {
	if _, exists := c.entries[entry.Key]; !exists {
		c.order = append(c.order, entry.Key)
	}

	c.entries[entry.Key] = entry
}

// Get returns the entry for a key.
func (c *Cache) Get(key string) (*Entry, bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

// Value returns the raw value of a key, or the empty string when absent.
func (c *Cache) Value(key string) string {
	if entry, ok := c.entries[key]; ok {
		return entry.Value
	}

	return ""
}

// Keys returns the entry names in file order.
func (c *Cache) Keys() []string {
	return append([]string{}, c.order...)
}

// Entries returns the entries in file order.
func (c *Cache) Entries() []*Entry {
	return utils.Map(c.order, func(key string) *Entry {
		return c.entries[key]
	})
}

func (c *Cache) Len() int {
	return len(c.order)
}

// SetValue rewrites the value of an existing entry, for editor-side cache views that
// write back edits.
func (c *Cache) SetValue(key, value string) error {
	entry, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("no cache entry named %q", key)
	}

	entry.Value = value
	return nil
}

// Serialize renders the cache back into the file format. Parsing the output yields an
// equivalent cache.
func (c *Cache) Serialize() string {
	var builder strings.Builder

	for _, key := range c.order {
		entry := c.entries[key]

		if entry.Doc != "" {
			builder.WriteString("//" + entry.Doc + "\n")
		}

		builder.WriteString(fmt.Sprintf("%s:%s=%s\n", entry.Key, entry.Type, entry.Value))
	}

	for _, key := range c.order {
		entry := c.entries[key]

		if entry.Advanced {
			builder.WriteString(fmt.Sprintf("%s-ADVANCED:INTERNAL=1\n", entry.Key))
		}

		if len(entry.Choices) > 0 {
			builder.WriteString(fmt.Sprintf("%s-STRINGS:INTERNAL=%s\n", entry.Key, strings.Join(entry.Choices, ";")))
		}
	}

	return builder.String()
}

// Save writes the serialized cache to a file.
func (c *Cache) Save(path string) error {
	if err := os.WriteFile(path, []byte(c.Serialize()), 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}
