package host

import (
	"errors"

	"github.com/entrhq/kbhost/pkg/bookmark"
	"github.com/entrhq/kbhost/pkg/fileaccess"
	"github.com/entrhq/kbhost/pkg/kb"
	"github.com/entrhq/kbhost/pkg/nativemsg"
	"github.com/m-mizutani/goerr/v2"
)

// Code classifies a failed response for the extension.
type Code string

const (
	CodeMalformedFrame  Code = "MalformedFrame"
	CodeOversizeFrame   Code = "OversizeFrame"
	CodeNotFound        Code = "NotFound"
	CodeNotReadable     Code = "NotReadable"
	CodeNotWritable     Code = "NotWritable"
	CodeLockTimeout     Code = "LockTimeout"
	CodeAlreadyExists   Code = "AlreadyExists"
	CodeUnknownPlatform Code = "UnknownPlatform"
	CodeInvalidDocument Code = "InvalidDocument"
	CodeInvalidRecord   Code = "InvalidRecord"
	CodePartialBookmark Code = "PartialBookmark"
	CodeBadRequest      Code = "BadRequest"
	CodeInvalidConfig   Code = "InvalidConfig"
	CodeInternal        Code = "Internal"
)

var ErrBadRequest = goerr.New("bad request")

var codes = []struct {
	err  error
	code Code
}{
	{nativemsg.ErrMalformedFrame, CodeMalformedFrame},
	{nativemsg.ErrOversizeFrame, CodeOversizeFrame},
	{bookmark.ErrPartialBookmark, CodePartialBookmark},
	{bookmark.ErrInvalidSlug, CodeBadRequest},
	{fileaccess.ErrLockTimeout, CodeLockTimeout},
	{fileaccess.ErrAlreadyExists, CodeAlreadyExists},
	{fileaccess.ErrNotFound, CodeNotFound},
	{fileaccess.ErrNotReadable, CodeNotReadable},
	{fileaccess.ErrNotWritable, CodeNotWritable},
	{kb.ErrUnknownPlatform, CodeUnknownPlatform},
	{kb.ErrInvalidDocument, CodeInvalidDocument},
	{kb.ErrInvalidRecord, CodeInvalidRecord},
	{kb.ErrAuthorNotFound, CodeNotFound},
	{ErrBadRequest, CodeBadRequest},
}

// CodeOf maps err onto the response code taxonomy.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

func failure(err error) *Response {
	return &Response{Error: err.Error(), Code: CodeOf(err)}
}

func badRequest(msg string) error {
	return goerr.Wrap(ErrBadRequest, msg)
}
