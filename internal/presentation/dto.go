package presentation

import (
	"sort"

	"github.com/zjrosen/protdict/internal/snapshot"
	"github.com/zjrosen/protdict/pkg/data"
)

// EntryDTO describes one container entry for presentation.
type EntryDTO struct {
	Key         string   `json:"key" yaml:"key"`
	Value       any      `json:"value" yaml:"value"`
	Tags        []string `json:"tags" yaml:"tags"` // always present, "none" for plain entries
	Types       []string `json:"types,omitempty" yaml:"types,omitempty"`
	Validators  []string `json:"validators,omitempty" yaml:"validators,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
}

// CheckDTO summarises one checked snapshot. Error is set when it failed to load.
type CheckDTO struct {
	Path    string              `json:"path" yaml:"path"`
	Format  string              `json:"format" yaml:"format"`
	Entries int                 `json:"entries" yaml:"entries"`
	Visible int                 `json:"visible" yaml:"visible"`
	Frozen  bool                `json:"frozen" yaml:"frozen"`
	ByTag   map[string][]string `json:"by_tag" yaml:"by_tag"`
	Dropped []string            `json:"dropped_types,omitempty" yaml:"dropped_types,omitempty"`
	Error   string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// DiffSummaryDTO is the machine-readable result of comparing two snapshots.
type DiffSummaryDTO struct {
	Old     string `json:"old" yaml:"old"`
	New     string `json:"new" yaml:"new"`
	Changed bool   `json:"changed" yaml:"changed"`
	Added   int    `json:"added" yaml:"added"`
	Removed int    `json:"removed" yaml:"removed"`
}

// FromEntry converts one container entry to a DTO.
func FromEntry(d *data.Data, key string) (EntryDTO, bool) {
	s, ok := d.Slot(key)
	if !ok {
		return EntryDTO{}, false
	}
	tags, _ := d.Tags(key)
	return EntryDTO{
		Key:         key,
		Value:       s.Value(),
		Tags:        tags,
		Types:       s.TypeNames(),
		Validators:  s.Tags(),
		Description: s.Description(),
		Source:      s.Source(),
	}, true
}

// FromData converts every entry, hidden ones included when includeHidden is set,
// sorted by key.
func FromData(d *data.Data, includeHidden bool) []EntryDTO {
	var keys []string
	if includeHidden {
		for k := range d.TagsByKey() {
			keys = append(keys, k)
		}
	} else {
		keys = d.Keys(true)
	}
	sort.Strings(keys)

	out := make([]EntryDTO, 0, len(keys))
	for _, k := range keys {
		if e, ok := FromEntry(d, k); ok {
			out = append(out, e)
		}
	}
	return out
}

// FromCheck builds the check summary for a loaded snapshot.
func FromCheck(path string, format snapshot.Format, res snapshot.Result) CheckDTO {
	d := res.Data
	return CheckDTO{
		Path:    path,
		Format:  string(format),
		Entries: len(d.TagsByKey()),
		Visible: d.Len(),
		Frozen:  d.Frozen(),
		ByTag:   d.KeysByTag(),
		Dropped: res.Dropped,
	}
}

// FromDiff summarises diff lines.
func FromDiff(oldPath, newPath string, lines []snapshot.DiffLine) DiffSummaryDTO {
	added, removed := snapshot.Stats(lines)
	return DiffSummaryDTO{
		Old:     oldPath,
		New:     newPath,
		Changed: snapshot.Changed(lines),
		Added:   added,
		Removed: removed,
	}
}
