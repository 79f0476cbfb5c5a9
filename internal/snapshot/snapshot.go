// Package snapshot reads and writes exported containers as JSON or YAML files
// and compares two snapshots line by line.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/protdict/internal/log"
	"github.com/zjrosen/protdict/pkg/data"
	"github.com/zjrosen/protdict/pkg/typereg"
)

// Format identifies a snapshot encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ErrUnknownFormat is returned when a format name or file extension is not recognised.
var ErrUnknownFormat = errors.New("unknown snapshot format")

// ParseFormat maps a config or flag value to a Format.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json", "":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// DetectFormat picks a format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Decode reads one snapshot document. Numbers come back as int when integral
// and float64 otherwise, and every mapping is a map[string]any.
func Decode(r io.Reader, format Format) (map[string]any, error) {
	var raw any
	switch format {
	case JSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case YAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		var err error
		if raw, err = stringKeys(raw); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if raw == nil {
		return map[string]any{}, nil
	}
	doc, ok := typereg.Normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("snapshot must be a mapping, got %T", raw)
	}
	return doc, nil
}

// stringKeys converts yaml's map[any]any nodes into map[string]any.
func stringKeys(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			val[k] = conv
		}
		return val, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("mapping key %v is %T, want string", k, k)
			}
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	case []any:
		for i, item := range val {
			conv, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			val[i] = conv
		}
		return val, nil
	default:
		return v, nil
	}
}

// Encode writes doc in the given format. indent is the number of spaces per
// level; 0 gives compact JSON and the yaml default of 4.
func Encode(w io.Writer, doc map[string]any, format Format, indent int) error {
	switch format {
	case JSON:
		enc := json.NewEncoder(w)
		if indent > 0 {
			enc.SetIndent("", strings.Repeat(" ", indent))
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case YAML:
		enc := yaml.NewEncoder(w)
		if indent > 0 {
			enc.SetIndent(indent)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Load reads a snapshot file, choosing the codec from the extension.
func Load(path string) (map[string]any, Format, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, "", fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := Decode(f, format)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	log.Debug(log.CatSnapshot, "Loaded snapshot", "path", path, "format", format, "entries", len(doc))
	return doc, format, nil
}

// Save writes doc to path, creating parent directories.
func Save(path string, doc map[string]any, format Format, indent int) error {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, format, indent); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	log.Debug(log.CatSnapshot, "Saved snapshot", "path", path, "format", format, "bytes", buf.Len())
	return nil
}

// LoadOptions controls how a snapshot document becomes a container.
type LoadOptions struct {
	Env           *data.Env
	InitialTyping bool
	// StrictTypes keeps unknown type names, which makes the import fail.
	// When false they are removed first and reported in the result.
	StrictTypes bool
}

// Result is a loaded container plus the type names dropped on the way in.
type Result struct {
	Data    *data.Data
	Dropped []string
}

// ToData builds a container from a decoded document.
func ToData(doc map[string]any, opts LoadOptions) (Result, error) {
	var res Result
	env := opts.Env
	if env == nil {
		env = data.DefaultEnv()
	}
	if !opts.StrictTypes {
		res.Dropped = PruneUnknownTypes(doc, env.Types)
		for _, d := range res.Dropped {
			log.Warn(log.CatSnapshot, "Dropped unknown type", "entry", d)
		}
	}

	dataOpts := []data.Option{data.WithEnv(env)}
	if opts.InitialTyping {
		dataOpts = append(dataOpts, data.WithInitialTyping())
	}
	d, err := data.New(doc, dataOpts...)
	if err != nil {
		return res, err
	}
	res.Data = d
	return res, nil
}

// PruneUnknownTypes removes type names the registry cannot resolve from the
// "types" list of every tagged entry. It returns "key: type" for each removal.
func PruneUnknownTypes(doc map[string]any, reg *typereg.Registry) []string {
	var dropped []string
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entry, ok := doc[k].(map[string]any)
		if !ok {
			continue
		}
		_, hasValue := entry["value"]
		_, hasTags := entry["tags"]
		names, hasTypes := entry["types"].([]any)
		if !hasValue || !hasTags || !hasTypes {
			continue
		}
		kept := make([]any, 0, len(names))
		for _, n := range names {
			name, isString := n.(string)
			if isString {
				if _, known := reg.Lookup(name); !known {
					dropped = append(dropped, k+": "+name)
					continue
				}
			}
			kept = append(kept, n)
		}
		entry["types"] = kept
	}
	return dropped
}
