package util

import (
	"crypto/md5"
	"fmt"

	"github.com/google/uuid"
)

// ImageID is a name based uuid over an image's geometry and sample bytes.
// Equal images share an id; the same bytes under another shape do not.
func ImageID(width, height, depth int, colorSpace string, data []byte) string {
	h := md5.New()
	fmt.Fprintf(h, "%dx%d:%d:%s:", width, height, depth, colorSpace)
	h.Write(data)
	return uuid.NewMD5(uuid.NameSpaceOID, h.Sum(nil)).String()
}
