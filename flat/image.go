package flat

import (
	"io"

	"github.com/pkg/errors"
)

// ErrBadRef is returned by Build when the entry point or stack pointer refers
// to an object that does not exist.
var ErrBadRef = errors.New("reference to nonexistent object")

// An Image is a flat memory image of a program.
type Image struct {
	Layout
	Segments [][]byte // relocated object data, one per object
	Entry    uint32   // initial value of EIP
	Stack    uint32   // initial value of ESP
	Warnings Warnings // relocations that were skipped or applied leniently
}

// Build places the objects of a program, applies their relocations, and
// resolves the entry point and stack pointer. Relocation problems are
// collected in the image's Warnings and do not cause Build to fail.
func Build(c Container, r Regions) (*Image, error) {
	objs := c.Objects()
	sizes := make([]uint32, len(objs))
	for i, obj := range objs {
		sizes[i] = obj.Size
	}
	img := &Image{
		Layout:   *Allocate(r, sizes),
		Segments: make([][]byte, len(objs)),
	}
	for i, obj := range objs {
		data := make([]byte, len(obj.Data))
		copy(data, obj.Data)
		img.Warnings = append(img.Warnings, img.Patch(i+1, data, obj.Relocs)...)
		img.Segments[i] = data
	}
	var ok bool
	if img.Entry, ok = img.Resolve(c.Entry()); !ok {
		return nil, errors.Wrapf(ErrBadRef, "entry point in object %d", c.Entry().Obj)
	}
	if img.Stack, ok = img.Resolve(c.Stack()); !ok {
		return nil, errors.Wrapf(ErrBadRef, "stack pointer in object %d", c.Stack().Obj)
	}
	return img, nil
}

// A File is the destination of an image. *os.File and afero.File satisfy it.
type File interface {
	io.WriterAt
	Truncate(size int64) error
}

// WriteFile writes the image to a file, each object at the offset equal to its
// address, and sets the file length to the image end address. Bytes not
// covered by any object are zero.
func (img *Image) WriteFile(f File) error {
	for i, data := range img.Segments {
		if len(data) == 0 {
			continue
		}
		base := img.Objects[i].Base
		if _, err := f.WriteAt(data, int64(base)); err != nil {
			return errors.Wrapf(err, "object %d at 0x%08X", i+1, base)
		}
	}
	return f.Truncate(int64(img.End))
}
