package kb

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the newest Index Document schema this package writes.
const CurrentVersion = 1

// DateLayout is the layout of last_updated and date_saved.
const DateLayout = "2006-01-02"

// timeNow is injected for testability.
var timeNow = time.Now

// Today returns the current date in DateLayout.
func Today() string {
	return timeNow().Format(DateLayout)
}

// NewDocument returns the empty document used when no index exists yet.
func NewDocument() *Document {
	return &Document{
		Version:     CurrentVersion,
		LastUpdated: Today(),
		MyContent:   map[string]any{},
		FavoriteAuthors: FavoriteAuthors{
			X:          []Author{},
			Substack:   []Author{},
			LinkedIn:   []Author{},
			GenericWeb: []Author{},
		},
		TopicIndex: map[string][]string{},
	}
}

// Decode parses a YAML Index Document. Empty input yields NewDocument.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(ErrInvalidDocument, "failed to parse index document", goerr.V("cause", err.Error()))
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Version > CurrentVersion {
		return nil, goerr.Wrap(ErrInvalidDocument, "unsupported document version",
			goerr.V("version", doc.Version), goerr.V("supported", CurrentVersion))
	}
	if doc.MyContent == nil {
		doc.MyContent = map[string]any{}
	}
	if doc.TopicIndex == nil {
		doc.TopicIndex = map[string][]string{}
	}
	return &doc, nil
}

// Encode renders doc as YAML with two-space indentation. Mapping keys of
// topic_index and preserved unknown keys come out sorted, so encoding is
// deterministic.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, goerr.Wrap(err, "failed to encode index document")
	}
	if err := enc.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to finish index document")
	}
	return buf.Bytes(), nil
}

// DecodeWire converts the JSON form carried by the transport into a Document.
func DecodeWire(raw json.RawMessage) (*Document, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, goerr.Wrap(ErrInvalidDocument, "document is not valid JSON", goerr.V("cause", err.Error()))
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, goerr.Wrap(ErrInvalidDocument, "document must be an object")
	}
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidDocument, "failed to convert document", goerr.V("cause", err.Error()))
	}
	return Decode(data)
}

// Wire returns doc as a generic tree suitable for JSON encoding.
func (d *Document) Wire() (map[string]any, error) {
	data, err := Encode(d)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, goerr.Wrap(err, "failed to convert document")
	}
	return tree, nil
}

// Validate checks the invariants a document must hold before it is written:
// a supported version, unique author identities per platform and unique
// content URLs per author.
func (d *Document) Validate() error {
	if d.Version < 1 || d.Version > CurrentVersion {
		return goerr.Wrap(ErrInvalidDocument, "unsupported document version", goerr.V("version", d.Version))
	}

	for _, p := range Platforms {
		list := d.FavoriteAuthors.List(p)
		authors := make(map[string]struct{}, len(*list))
		for i := range *list {
			a := &(*list)[i]
			if id, ok := IdentityOf(p, a); ok {
				if _, dup := authors[id.Key()]; dup {
					return goerr.Wrap(ErrInvalidDocument, "duplicate author identity",
						goerr.V("platform", p), goerr.V("identity", id.Key()))
				}
				authors[id.Key()] = struct{}{}
			}

			urls := map[string]struct{}{}
			for _, c := range *a.Saved(p) {
				key := NormalizeURL(c.URL)
				if key == "" {
					continue
				}
				if _, dup := urls[key]; dup {
					return goerr.Wrap(ErrInvalidDocument, "duplicate content url",
						goerr.V("platform", p), goerr.V("author", AuthorReference(p, a)), goerr.V("url", key))
				}
				urls[key] = struct{}{}
			}
		}
	}
	return nil
}

// sortTopicIndex dedupes and sorts every reference list and drops empty
// topics.
func (d *Document) sortTopicIndex() {
	for topic, refs := range d.TopicIndex {
		if NormalizeTopic(topic) == "" {
			delete(d.TopicIndex, topic)
			continue
		}
		seen := make(map[string]struct{}, len(refs))
		out := refs[:0]
		for _, r := range refs {
			if _, dup := seen[r]; dup || r == "" {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
		sort.Strings(out)
		d.TopicIndex[topic] = out
	}
}
