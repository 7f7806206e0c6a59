package kb

import "github.com/m-mizutani/goerr/v2"

var (
	ErrUnknownPlatform = goerr.New("unknown platform")
	ErrInvalidDocument = goerr.New("invalid index document")
	ErrInvalidRecord   = goerr.New("invalid extracted record")
	ErrAuthorNotFound  = goerr.New("author not found")
)
