package objectstore

import "errors"

var (
	ErrNotFound = errors.New("object not found")
	ErrForbidden = errors.New("object store access forbidden")
	ErrNetwork  = errors.New("object store network error")
	ErrCorrupt  = errors.New("object store content corrupt")
)
