package raster

import (
	"errors"
)

// Error taxonomy shared by every codec. Codecs wrap these with a
// package-prefixed message, callers test with errors.Is.
var (
	ErrIOFailed           = errors.New("io failed")
	ErrNotMatch           = errors.New("signature does not match")
	ErrFileCorrupted      = errors.New("file corrupted")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrUnknownFormat      = errors.New("unknown format")
	ErrMalformedStream    = errors.New("malformed stream")
)

// Kind names an error category for logging and CLI exit reporting.
type Kind int

const (
	KindNone Kind = iota
	KindIOFailed
	KindNotMatch
	KindFileCorrupted
	KindUnsupportedFeature
	KindUnknownFormat
	KindMalformedStream
	KindOther
)

var kindNames = map[Kind]string{
	KindNone:               "None",
	KindIOFailed:           "IOFailed",
	KindNotMatch:           "NotMatch",
	KindFileCorrupted:      "FileCorrupted",
	KindUnsupportedFeature: "UnsupportedFeature",
	KindUnknownFormat:      "UnknownFormat",
	KindMalformedStream:    "MalformedStream",
	KindOther:              "Other",
}

func (k Kind) String() string {
	return kindNames[k]
}

// KindOf maps err onto the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrIOFailed):
		return KindIOFailed
	case errors.Is(err, ErrNotMatch):
		return KindNotMatch
	case errors.Is(err, ErrFileCorrupted):
		return KindFileCorrupted
	case errors.Is(err, ErrUnsupportedFeature):
		return KindUnsupportedFeature
	case errors.Is(err, ErrUnknownFormat):
		return KindUnknownFormat
	case errors.Is(err, ErrMalformedStream):
		return KindMalformedStream
	default:
		return KindOther
	}
}
