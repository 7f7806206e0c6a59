// Package bookmark builds and commits Bookmark Documents: one folder per saved
// item holding meta.yaml, assets/content.md and the canonicals/retrieval.md
// alias. A folder is created as a unit or not at all.
package bookmark

import "github.com/m-mizutani/goerr/v2"

var (
	ErrPartialBookmark = goerr.New("bookmark folder is incomplete")
	ErrInvalidSlug     = goerr.New("invalid bookmark slug")
)
