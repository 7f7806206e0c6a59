package kb

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ReasonDuplicate is reported when content with the same normalized URL is
// already stored under the author.
const ReasonDuplicate = "duplicate"

// UpsertResult describes the outcome of UpsertAuthor.
type UpsertResult struct {
	IsNew     bool
	Index     int
	Reference string
}

// AppendResult describes the outcome of AppendContent.
type AppendResult struct {
	Added  bool
	Reason string
}

// ApplyResult describes the outcome of saving an extracted record.
type ApplyResult struct {
	AuthorIsNew bool   `json:"author_is_new"`
	Added       bool   `json:"added"`
	Reason      string `json:"reason,omitempty"`
	AuthorRef   string `json:"author_ref"`
}

// UpsertAuthor finds the author matching id and merges fields into it, or
// appends a new author when none matches.
func UpsertAuthor(doc *Document, id Identity, fields AuthorFields) (*Document, UpsertResult, error) {
	if id == nil {
		return nil, UpsertResult{}, goerr.Wrap(ErrInvalidRecord, "author identity is required")
	}
	p := id.Platform()
	if id.Key() == "" {
		return nil, UpsertResult{}, goerr.Wrap(ErrInvalidRecord, "author identity is empty", goerr.V("platform", p))
	}

	next := doc.Clone()
	list := next.FavoriteAuthors.List(p)
	if list == nil {
		return nil, UpsertResult{}, goerr.Wrap(ErrUnknownPlatform, "no author list for platform", goerr.V("platform", p))
	}

	if i := findAuthor(*list, id); i >= 0 {
		a := &(*list)[i]
		a.Topics = mergeTopics(a.Topics, fields.Topics)
		fillEmpty(&a.Name, fields.Name)
		fillEmpty(&a.Writer, fields.Writer)
		fillEmpty(&a.Description, fields.Description)
		return next, UpsertResult{Index: i, Reference: AuthorReference(p, a)}, nil
	}

	var a Author
	id.assign(&a)
	fillEmpty(&a.Name, fields.Name)
	a.Writer = strings.TrimSpace(fields.Writer)
	a.Description = strings.TrimSpace(fields.Description)
	a.Topics = normalizeTopics(fields.Topics)
	*list = append(*list, a)

	return next, UpsertResult{
		IsNew:     true,
		Index:     len(*list) - 1,
		Reference: AuthorReference(p, &a),
	}, nil
}

// AppendContent stores item under the author matching id. A duplicate URL
// returns doc itself, unmodified, with Reason set to ReasonDuplicate.
func AppendContent(doc *Document, id Identity, item Content) (*Document, AppendResult, error) {
	if id == nil {
		return nil, AppendResult{}, goerr.Wrap(ErrInvalidRecord, "author identity is required")
	}
	key := NormalizeURL(item.URL)
	if key == "" {
		return nil, AppendResult{}, goerr.Wrap(ErrInvalidRecord, "content url is required")
	}

	p := id.Platform()
	list := doc.FavoriteAuthors.List(p)
	if list == nil {
		return nil, AppendResult{}, goerr.Wrap(ErrUnknownPlatform, "no author list for platform", goerr.V("platform", p))
	}
	i := findAuthor(*list, id)
	if i < 0 {
		return nil, AppendResult{}, goerr.Wrap(ErrAuthorNotFound, "cannot append content",
			goerr.V("platform", p), goerr.V("identity", id.Key()))
	}

	for _, existing := range *(*list)[i].Saved(p) {
		if NormalizeURL(existing.URL) == key {
			return doc, AppendResult{Reason: ReasonDuplicate}, nil
		}
	}

	next := doc.Clone()
	a := &(*next.FavoriteAuthors.List(p))[i]
	stored := item.clone()
	stored.DateSaved = Today()
	stored.Topics = normalizeTopics(item.Topics)
	saved := a.Saved(p)
	*saved = append(*saved, stored)

	return next, AppendResult{Added: true}, nil
}

// UpdateTopicIndex records ref under every topic. Applying the same pair
// twice yields the same document as applying it once.
func UpdateTopicIndex(doc *Document, topics []string, ref string) *Document {
	next := doc.Clone()
	ref = strings.TrimSpace(ref)
	if ref != "" {
		for _, topic := range normalizeTopics(topics) {
			next.TopicIndex[topic] = append(next.TopicIndex[topic], ref)
		}
	}
	next.sortTopicIndex()
	return next
}

// Apply saves an extracted record: upsert the author with the suggested
// topics, append the content if present, then index the topics.
func Apply(doc *Document, rec ExtractedRecord) (*Document, ApplyResult, error) {
	id, err := rec.Identity()
	if err != nil {
		return nil, ApplyResult{}, err
	}

	fields := rec.Fields()
	next, up, err := UpsertAuthor(doc, id, fields)
	if err != nil {
		return nil, ApplyResult{}, err
	}
	result := ApplyResult{AuthorIsNew: up.IsNew, AuthorRef: up.Reference}

	if item, ok := rec.Item(); ok {
		var app AppendResult
		next, app, err = AppendContent(next, id, item)
		if err != nil {
			return nil, ApplyResult{}, err
		}
		result.Added = app.Added
		result.Reason = app.Reason
	}

	if len(fields.Topics) > 0 {
		next = UpdateTopicIndex(next, fields.Topics, up.Reference)
	}
	return next, result, nil
}

func fillEmpty(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = strings.TrimSpace(v)
	}
}
