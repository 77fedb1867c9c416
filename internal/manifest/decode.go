package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/mansync/internal/source"
)

// Format is the serialization of a manifest document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// maxDecompressed caps zstd output so a hostile document cannot fill memory.
const maxDecompressed = 64 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FormatFor picks the format from a file name or URL path. A trailing .zst
// is ignored; compression is detected from content.
func FormatFor(name string) Format {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".zst")
	switch path.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type document struct {
	Archives []archiveDoc `json:"archives" yaml:"archives"`
	Files    []fileDoc    `json:"files" yaml:"files"`
	Renames  []renameDoc  `json:"renames,omitempty" yaml:"renames,omitempty"`
	Delete   []string     `json:"delete,omitempty" yaml:"delete,omitempty"`
}

type archiveDoc struct {
	Blake3 string `json:"blake3" yaml:"blake3"`
	Size   uint64 `json:"size" yaml:"size"`
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
}

type fileDoc struct {
	Blake3    string `json:"blake3" yaml:"blake3"`
	Size      uint64 `json:"size" yaml:"size"`
	Path      string `json:"path" yaml:"path"`
	AssetName string `json:"asset_name,omitempty" yaml:"asset_name,omitempty"`
	Archive   string `json:"archive,omitempty" yaml:"archive,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
}

type renameDoc struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Decode parses a manifest document. zstd-compressed input is recognised by
// its frame magic. Sources are filled from explicit urls first, then from
// resolver; a nil resolver leaves them empty.
func Decode(data []byte, format Format, resolver source.Resolver) (*Manifest, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := decompress(data)
		if err != nil {
			return nil, &ParseError{Message: "decompress manifest", Err: err}
		}
		data = plain
	}

	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &ParseError{Message: "decode yaml manifest", Err: err}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, &ParseError{Message: "decode json manifest", Err: err}
		}
	}

	return build(&doc, resolver)
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := io.ReadAll(io.LimitReader(dec, maxDecompressed+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressed {
		return nil, errors.New("decompressed manifest too large")
	}
	return out, nil
}

func build(doc *document, resolver source.Resolver) (*Manifest, error) {
	m := &Manifest{}

	archiveIndex := make(map[string]int, len(doc.Archives))
	for i, a := range doc.Archives {
		if a.Name == "" {
			return nil, &ParseError{Message: fmt.Sprintf("archive %d has no name", i)}
		}
		if strings.ContainsAny(a.Name, `/\`) {
			return nil, &ParseError{Message: "archive name must be a plain file name", Subject: a.Name}
		}
		if _, dup := archiveIndex[a.Name]; dup {
			return nil, &ParseError{Message: "duplicate archive", Subject: a.Name}
		}
		if a.Blake3 == "" {
			return nil, &ParseError{Message: "archive has no hash", Subject: a.Name}
		}

		src, err := locate(a.URL, a.Name, resolver)
		if err != nil {
			return nil, &ParseError{Message: "resolve archive source", Subject: a.Name, Err: err}
		}

		archiveIndex[a.Name] = len(m.Archives)
		m.Archives = append(m.Archives, ArchiveEntry{
			Hash:   a.Blake3,
			Size:   a.Size,
			Name:   a.Name,
			Source: src,
		})
	}

	seen := make(map[string]struct{}, len(doc.Files))
	for i, f := range doc.Files {
		if f.Path == "" {
			return nil, &ParseError{Message: fmt.Sprintf("file %d has no path", i)}
		}
		p := strings.ReplaceAll(f.Path, "\\", "/")
		if _, err := LocalPath("", p); err != nil {
			return nil, &ParseError{Message: "invalid file path", Subject: f.Path, Err: err}
		}
		if _, dup := seen[p]; dup {
			return nil, &ParseError{Message: "duplicate path", Subject: p}
		}
		seen[p] = struct{}{}
		if f.Blake3 == "" {
			return nil, &ParseError{Message: "file has no hash", Subject: p}
		}

		entry := FileEntry{Hash: f.Blake3, Size: f.Size, Path: p}

		if f.Archive != "" {
			idx, ok := archiveIndex[f.Archive]
			if !ok {
				return nil, &ParseError{Message: "file references unknown archive " + f.Archive, Subject: p}
			}
			m.Archives[idx].Members = append(m.Archives[idx].Members, entry)
			continue
		}

		name := f.AssetName
		if name == "" {
			name = p
		}
		src, err := locate(f.URL, name, resolver)
		if err != nil {
			return nil, &ParseError{Message: "resolve file source", Subject: p, Err: err}
		}
		entry.Source = src
		m.Files = append(m.Files, entry)
	}

	for _, r := range doc.Renames {
		if r.From == "" || r.To == "" {
			return nil, &ParseError{Message: "rename needs both from and to"}
		}
		m.Reconcile.Renames = append(m.Reconcile.Renames, Rename{From: SlashPath(r.From), To: SlashPath(r.To)})
	}
	for _, d := range doc.Delete {
		if d == "" {
			continue
		}
		m.Reconcile.Deletions = append(m.Reconcile.Deletions, SlashPath(d))
	}

	return m, nil
}

func locate(explicit, name string, resolver source.Resolver) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if resolver == nil {
		return "", nil
	}
	return resolver.Locate(name)
}
