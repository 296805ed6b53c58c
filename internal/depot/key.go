package depot

import (
	"strconv"
	"strings"
)

// ThumbnailKey identifies one rendering of a source object. Its string form
// is the storage key of the rendered thumbnail:
//
//	{SourceID}[_fill]_{Width}_{Height}
//
// where an absent dimension is written as the empty string. Cached objects
// written by earlier deployments rely on this exact format.
type ThumbnailKey struct {
	SourceID string
	Fill     bool
	Width    *int
	Height   *int
}

func (k ThumbnailKey) String() string {
	var b strings.Builder
	b.Grow(len(k.SourceID) + 16)

	b.WriteString(k.SourceID)
	if k.Fill {
		b.WriteString("_fill")
	}
	b.WriteByte('_')
	writeDimension(&b, k.Width)
	b.WriteByte('_')
	writeDimension(&b, k.Height)

	return b.String()
}

func writeDimension(b *strings.Builder, v *int) {
	if v != nil {
		b.WriteString(strconv.Itoa(*v))
	}
}
