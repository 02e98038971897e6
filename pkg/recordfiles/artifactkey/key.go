// Package artifactkey derives the file keys of derived artifacts from the
// key of the primary file they were generated from.
//
// The original extension is folded into the derived basename so that two
// primaries sharing a basename never map to the same artifact:
//
//	doc.pdf  -> doc-pdf.jpg
//	doc.txt  -> doc-txt.jpg
//	readme   -> readme.jpg
package artifactkey

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidKey is matched by every InvalidKeyError.
var ErrInvalidKey = errors.New("invalid primary key")

// InvalidKeyError reports a primary key without a usable basename.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("%q is not a valid filename", e.Key)
}

// Is lets errors.Is match ErrInvalidKey.
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// Split separates key into its basename and extension. The extension is
// taken from the last dot of the final path segment and keeps its dot;
// directories stay part of the basename.
func Split(key string) (basename, ext string) {
	ext = path.Ext(key)
	return key[:len(key)-len(ext)], ext
}

// DeriveKey returns the key of the artifact with extension targetExt
// generated from primaryKey. It is pure: the same input always yields the
// same key, which lets deletion recompute what creation produced.
func DeriveKey(primaryKey, targetExt string) (string, error) {
	basename, ext := Split(primaryKey)
	if basename == "" || strings.HasSuffix(basename, "/") {
		return "", &InvalidKeyError{Key: primaryKey}
	}

	targetExt = strings.TrimPrefix(targetExt, ".")
	if ext == "" {
		return basename + "." + targetExt, nil
	}
	return basename + "-" + strings.TrimPrefix(ext, ".") + "." + targetExt, nil
}

// Extensions of the artifacts produced by the derived pipeline.
const (
	ThumbnailExt = "jpg"
	FulltextExt  = "txt"
)

// Thumbnail returns the key of the thumbnail artifact of primaryKey.
func Thumbnail(primaryKey string) (string, error) {
	return DeriveKey(primaryKey, ThumbnailExt)
}

// Fulltext returns the key of the fulltext artifact of primaryKey.
func Fulltext(primaryKey string) (string, error) {
	return DeriveKey(primaryKey, FulltextExt)
}
