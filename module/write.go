package module

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits
)

var zeropage [pageSize]byte

func pagecount(size uint32) uint32 {
	return (size + pageSize - 1) >> pageBits
}

// =================================================================================================

type objdata struct {
	object []byte
	page   []byte
}

func (d *objdata) write(obj *Object, first, count uint32) {
	var od [objectHeaderSize]byte
	binary.LittleEndian.PutUint32(od[:], obj.VirtualSize)
	binary.LittleEndian.PutUint32(od[4:], obj.BaseAddress)
	binary.LittleEndian.PutUint32(od[8:], uint32(obj.Flags))
	if count != 0 {
		binary.LittleEndian.PutUint32(od[12:], uint32(len(d.page)/pageTableEntrySize)+1)
		binary.LittleEndian.PutUint32(od[16:], count)
		for page := first; page < first+count; page++ {
			d.page = append(d.page, byte(page>>16), byte(page>>8), byte(page), pageLegal)
		}
	}
	d.object = append(d.object, od[:]...)
}

// =================================================================================================

func appendFixup(f Fixup, src int32, data []byte) []byte {
	var d [16]byte
	d[0] = byte(f.SrcType)
	var flags byte
	binary.LittleEndian.PutUint16(d[2:], uint16(src))
	n := 4
	if f.Target.Obj > 0xff {
		flags |= tgtObjNum16
		binary.LittleEndian.PutUint16(d[n:], uint16(f.Target.Obj))
		n += 2
	} else {
		d[n] = byte(f.Target.Obj)
		n++
	}
	if f.SrcType&0x0f != 0x02 {
		if f.Target.Off > 0x7fff || f.Target.Off < 0 {
			flags |= tgtOff32
			binary.LittleEndian.PutUint32(d[n:], uint32(f.Target.Off))
			n += 4
		} else {
			binary.LittleEndian.PutUint16(d[n:], uint16(f.Target.Off))
			n += 2
		}
	}
	if f.Add != 0 {
		flags |= tgtAdditive
		if f.Add > 0xffff || f.Add < 0 {
			flags |= tgtAdd32
			binary.LittleEndian.PutUint32(d[n:], uint32(f.Add))
			n += 4
		} else {
			binary.LittleEndian.PutUint16(d[n:], uint16(f.Add))
			n += 2
		}
	}
	d[1] = flags
	return append(data, d[:n]...)
}

type fixupdata struct {
	pages   []uint32
	records []byte
}

// write writes out fixup records for an object occupying npage pages. A fixup
// which crosses a page boundary is written to both pages.
func (d *fixupdata) write(npage uint32, fixups []Fixup) error {
	buckets := make([][]Fixup, npage)
	for _, f := range fixups {
		if f.SrcType&srcList != 0 {
			return errors.Errorf("fixup at 0x%x has a source list", f.Src)
		}
		if f.Src < 0 || f.Src>>pageBits >= int32(npage) {
			return errors.Errorf("fixup at 0x%x is outside object data", f.Src)
		}
		first := f.Src >> pageBits
		buckets[first] = append(buckets[first], f)
		if last := (f.Src + 3) >> pageBits; last != first && last < int32(npage) {
			buckets[last] = append(buckets[last], f)
		}
	}
	for pi, pfixups := range buckets {
		d.pages = append(d.pages, uint32(len(d.records)))
		base := int32(pi << pageBits)
		for _, f := range pfixups {
			d.records = appendFixup(f, f.Src-base, d.records)
		}
	}
	return nil
}

// =================================================================================================

type pagedata struct {
	count  uint32
	offset uint32
	data   [][]byte
}

func (d *pagedata) write(data []byte) (first, count uint32) {
	count = pagecount(uint32(len(data)))
	if count != 0 {
		first = d.count + 1
		if d.offset != 0 {
			d.data = append(d.data, zeropage[d.offset:])
		}
		d.data = append(d.data, data)
		d.offset = uint32(len(data)) & (pageSize - 1)
		d.count += count
	}
	return
}

// lastPageSize returns the number of bytes used on the last page.
func (d *pagedata) lastPageSize() uint32 {
	if d.offset == 0 && d.count != 0 {
		return pageSize
	}
	return d.offset
}

// =================================================================================================

type datawriter struct {
	pos  uint32
	data [][]byte
}

func (w *datawriter) write(d []byte) {
	w.pos += uint32(len(d))
	w.data = append(w.data, d)
}

func uint32s(v []uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return b
}

// =================================================================================================

func (p *Program) dumpBlocks() ([][]byte, error) {
	if len(p.Objects) > maxObjects {
		return nil, errors.Errorf("too many objects: %d", len(p.Objects))
	}
	var objdata objdata
	var fixupdata fixupdata
	var pagedata pagedata
	for i, obj := range p.Objects {
		if uint32(len(obj.Data)) > obj.VirtualSize {
			return nil, errors.Errorf("object %d: data is larger than virtual size", i+1)
		}
		first, count := pagedata.write(obj.Data)
		if err := fixupdata.write(count, obj.Fixups); err != nil {
			return nil, errors.Wrapf(err, "object %d", i+1)
		}
		objdata.write(obj, first, count)
	}
	fixupdata.pages = append(fixupdata.pages, uint32(len(fixupdata.records)))

	h := ProgramHeader{
		Signature:      [2]byte{'L', 'E'},
		CPUType:        2, // 386 or higher
		ModuleNumPages: pagedata.count,
		EIP:            p.EIP,
		ESP:            p.ESP,
		PageSize:       pageSize,
		LastPageSize:   pagedata.lastPageSize(),
		NumObjects:     uint32(len(p.Objects)),
	}

	// Offsets of the tables are relative to the LE header, except for the
	// data pages, which are relative to the start of the file.
	var d datawriter
	d.write(nil) // header, filled in below
	d.pos = programHeaderSize
	start := d.pos
	h.ObjectTableOffset = d.pos
	d.write(objdata.object)
	h.ObjectPageTableOffset = d.pos
	d.write(objdata.page)
	h.LoaderSectionSize = d.pos - start
	start = d.pos
	h.FixupPageTableOffset = d.pos
	d.write(uint32s(fixupdata.pages))
	h.FixupRecordOffset = d.pos
	d.write(fixupdata.records)
	h.FixupSectionSize = d.pos - start
	h.DataPagesOffset = uint32(len(p.Stub)) + d.pos
	for _, it := range pagedata.data {
		d.write(it)
	}

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	d.data[0] = hdr.Bytes()
	if len(p.Stub) != 0 {
		d.data = append([][]byte{p.Stub}, d.data...)
	}
	return d.data, nil
}

// WriteTo writes the program, preceded by its stub, to a writer.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	blocks, err := p.dumpBlocks()
	if err != nil {
		return 0, err
	}
	var amt int64
	for _, d := range blocks {
		n, err := w.Write(d)
		amt += int64(n)
		if err != nil {
			return amt, err
		}
	}
	return amt, nil
}
