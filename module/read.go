package module

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	maxObjects         = 64
	objectHeaderSize   = 0x18
	programHeaderSize  = 0xac
	pageTableEntrySize = 4
)

// Object page table entry types. Iterated and invalid pages are not
// supported.
const (
	pageLegal  = 0x00
	pageZeroed = 0x03
)

// A reader holds a module payload and the offset of the payload in the file.
type reader struct {
	file []byte
	base int64
}

// section returns size bytes at the given offset relative to the LE header.
func (r *reader) section(off uint32, size int64, what string) ([]byte, error) {
	return r.at(r.base+int64(off), size, what)
}

// at returns size bytes at the given absolute file offset.
func (r *reader) at(off, size int64, what string) ([]byte, error) {
	if off < 0 || size < 0 || off > int64(len(r.file)) || off+size > int64(len(r.file)) {
		return nil, formatError(off, "%s is out of bounds", what)
	}
	return r.file[off : off+size], nil
}

// Parse reads an executable consisting of an optional DOS stub followed by an
// LE module. The returned program refers to b.
func Parse(b []byte) (*Program, error) {
	off, err := SplitStub(b)
	if err != nil {
		return nil, err
	}
	payload := b[off:]
	if bytes.HasPrefix(payload, pmw1Signature) {
		return nil, formatError(int64(off), "PMW1 compressed executable, decompress it first")
	}
	r := &reader{file: b, base: int64(off)}
	p := &Program{Stub: b[:off]}
	if len(payload) < programHeaderSize {
		return nil, formatError(int64(off), "incomplete LE header")
	}
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &p.ProgramHeader); err != nil {
		return nil, err
	}
	switch {
	case p.IsLE():
	case p.IsLX():
		return nil, formatError(int64(off), "LX modules are not supported")
	default:
		return nil, formatError(int64(off), "unknown program signature %q (expected LE)", p.Signature[:])
	}
	if p.ByteOrder != 0 || p.WordOrder != 0 {
		return nil, formatError(int64(off), "module is not little endian")
	}
	if p.PageSize != pageSize {
		return nil, formatError(int64(off), "unsupported page size %d", p.PageSize)
	}
	if p.LastPageSize > pageSize {
		return nil, formatError(int64(off), "last page size %d is larger than a page", p.LastPageSize)
	}

	// Read object table
	if p.NumObjects > maxObjects {
		return nil, formatError(int64(off), "too many objects: %d", p.NumObjects)
	}
	otab, err := r.section(p.ObjectTableOffset, int64(p.NumObjects)*objectHeaderSize, "object table")
	if err != nil {
		return nil, err
	}
	ohdrs := make([]ObjectHeader, p.NumObjects)
	if err := binary.Read(bytes.NewReader(otab), binary.LittleEndian, ohdrs); err != nil {
		return nil, err
	}
	ptab, err := r.section(p.ObjectPageTableOffset, int64(p.ModuleNumPages)*pageTableEntrySize, "object page table")
	if err != nil {
		return nil, err
	}
	ftab, err := r.section(p.FixupPageTableOffset, (int64(p.ModuleNumPages)+1)*4, "fixup page table")
	if err != nil {
		return nil, err
	}
	p.Objects = make([]*Object, p.NumObjects)
	for i, h := range ohdrs {
		obj, err := r.readObject(&p.ProgramHeader, h, ptab, ftab)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d", i+1)
		}
		p.Objects[i] = obj
	}
	return p, nil
}

// readObject reads the pages and fixups of one object.
func (r *reader) readObject(ph *ProgramHeader, h ObjectHeader, ptab, ftab []byte) (*Object, error) {
	obj := &Object{ObjectHeader: h}
	if h.NumPageTableEntries == 0 {
		return obj, nil
	}
	if h.PageTableIndex == 0 || uint64(h.PageTableIndex)-1+uint64(h.NumPageTableEntries) > uint64(ph.ModuleNumPages) {
		return nil, formatError(-1, "page table entries %d+%d are out of range", h.PageTableIndex, h.NumPageTableEntries)
	}
	seen := make(map[Fixup]bool)
	for j := uint32(0); j < h.NumPageTableEntries; j++ {
		ent := ptab[(h.PageTableIndex-1+j)*pageTableEntrySize:]
		page := uint32(ent[0])<<16 | uint32(ent[1])<<8 | uint32(ent[2])
		if page == 0 || page > ph.ModuleNumPages {
			return nil, formatError(-1, "page %d: page number %d is out of range", j, page)
		}
		var data []byte
		switch ent[3] {
		case pageLegal:
			size := int64(pageSize)
			if page == ph.ModuleNumPages && ph.LastPageSize != 0 {
				size = int64(ph.LastPageSize)
			}
			var err error
			data, err = r.at(int64(ph.DataPagesOffset)+int64(page-1)*pageSize, size, "data page")
			if err != nil {
				return nil, errors.Wrapf(err, "page %d", j)
			}
		case pageZeroed:
			data = zeropage[:]
		default:
			return nil, formatError(-1, "page %d: unsupported page type %d", j, ent[3])
		}
		// Pages are contiguous in memory even if a page in the file is short.
		if pos := int(j) * pageSize; len(obj.Data) < pos {
			obj.Data = append(obj.Data, make([]byte, pos-len(obj.Data))...)
		}
		obj.Data = append(obj.Data, data...)

		first := binary.LittleEndian.Uint32(ftab[(page-1)*4:])
		last := binary.LittleEndian.Uint32(ftab[page*4:])
		if first > last {
			return nil, formatError(-1, "page %d: fixup records are out of order", j)
		}
		recs, err := r.at(r.base+int64(ph.FixupRecordOffset)+int64(first), int64(last-first), "fixup records")
		if err != nil {
			return nil, errors.Wrapf(err, "page %d", j)
		}
		fixups, err := readFixups(recs, int32(j)*pageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d", j)
		}
		for _, f := range fixups {
			// A fixup which crosses into this page is also listed on the
			// previous page.
			if f.Src < int32(j)*pageSize && seen[f] {
				continue
			}
			seen[f] = true
			obj.Fixups = append(obj.Fixups, f)
		}
	}
	if uint32(len(obj.Data)) > h.VirtualSize {
		obj.Data = obj.Data[:h.VirtualSize]
	}
	return obj, nil
}

// A recordReader reads little-endian values from fixup records.
type recordReader struct {
	b   []byte
	pos int
	err error
}

func (r *recordReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.b) {
		r.err = formatError(-1, "truncated fixup record at 0x%x", r.pos)
		return nil
	}
	d := r.b[r.pos : r.pos+n]
	r.pos += n
	return d
}

func (r *recordReader) u8() uint8 {
	if d := r.next(1); d != nil {
		return d[0]
	}
	return 0
}

func (r *recordReader) u16() uint16 {
	if d := r.next(2); d != nil {
		return binary.LittleEndian.Uint16(d)
	}
	return 0
}

func (r *recordReader) u32() uint32 {
	if d := r.next(4); d != nil {
		return binary.LittleEndian.Uint32(d)
	}
	return 0
}

// readFixups reads the fixup records for one page. Source offsets are made
// relative to the object by adding base.
func readFixups(b []byte, base int32) ([]Fixup, error) {
	r := recordReader{b: b}
	var fixups []Fixup
	for r.pos < len(r.b) {
		start := r.pos
		st := SrcType(r.u8())
		flags := r.u8()
		if r.err != nil {
			return nil, r.err
		}
		if unknown := flags &^ tgtKnownMask; unknown != 0 {
			return nil, formatError(-1, "fixup record at 0x%x has unknown target flags 0x%02x", start, unknown)
		}
		if t := flags & tgtTypeMask; t != tgtInternal {
			return nil, formatError(-1, "fixup record at 0x%x has target type %d, which is unsupported", start, t)
		}
		var srcs []int32
		count := 1
		if st&srcList != 0 {
			count = int(r.u8())
		} else {
			srcs = append(srcs, int32(int16(r.u16())))
		}
		var target Ref
		if flags&tgtObjNum16 != 0 {
			target.Obj = int32(r.u16())
		} else {
			target.Obj = int32(r.u8())
		}
		// 16-bit selector fixups have no target offset.
		if st&0x0f != 0x02 {
			if flags&tgtOff32 != 0 {
				target.Off = int32(r.u32())
			} else {
				target.Off = int32(r.u16())
			}
		}
		var add int32
		if flags&tgtAdditive != 0 {
			if flags&tgtAdd32 != 0 {
				add = int32(r.u32())
			} else {
				add = int32(r.u16())
			}
		}
		if st&srcList != 0 {
			for i := 0; i < count; i++ {
				srcs = append(srcs, int32(int16(r.u16())))
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		for _, src := range srcs {
			fixups = append(fixups, Fixup{
				SrcType: st &^ srcList,
				Src:     base + src,
				Target:  target,
				Add:     add,
			})
		}
	}
	return fixups, nil
}
