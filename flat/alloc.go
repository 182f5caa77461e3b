package flat

import "fmt"

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

// Default region bounds. Objects are loaded at 0xE000 in a fresh DOSBox,
// video memory begins at 0xA0000, and high memory starts after the HMA.
const (
	DefaultLowStart  = 0xE000
	DefaultLowEnd    = 0xA0000
	DefaultHighStart = 0x110000
)

// Regions are the bounds of the two address ranges objects are placed in.
// The high region is unbounded.
type Regions struct {
	LowStart  uint32
	LowEnd    uint32
	HighStart uint32
}

// DefaultRegions returns the region bounds used by the PMODE/W loader in DOSBox.
func DefaultRegions() Regions {
	return Regions{
		LowStart:  DefaultLowStart,
		LowEnd:    DefaultLowEnd,
		HighStart: DefaultHighStart,
	}
}

// A Region identifies which address range an object was placed in.
type Region int

const (
	Low Region = iota
	High
)

func (r Region) String() string {
	switch r {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Region(%d)", int(r))
	}
}

// A Placement is the address assigned to one object.
type Placement struct {
	Base   uint32
	Size   uint32
	Region Region
}

// A Layout is the address assignment for every object in a program, in
// object order.
type Layout struct {
	Objects []Placement
	End     uint32 // one past the highest byte of any object
}

// Base returns the base address of the object with the given 1-based index.
func (l *Layout) Base(obj int) (uint32, bool) {
	if obj < 1 || obj > len(l.Objects) {
		return 0, false
	}
	return l.Objects[obj-1].Base, true
}

// Resolve returns the absolute address of a reference.
func (l *Layout) Resolve(r Ref) (uint32, bool) {
	base, ok := l.Base(r.Obj)
	if !ok {
		return 0, false
	}
	return base + r.Off, true
}

func roundPage(size uint32) uint32 {
	return (size + pageMask) &^ pageMask
}

// allocator is the state of the address allocator between objects.
type allocator struct {
	regions Regions
	low     uint32
	high    uint32
	end     uint32
}

func newAllocator(r Regions) allocator {
	return allocator{
		regions: r,
		low:     r.LowStart,
		high:    r.HighStart,
		end:     r.LowStart,
	}
}

// place assigns an address to an object of the given size. An object goes in
// low memory if it fits at the current low cursor, otherwise in high memory.
func (a allocator) place(size uint32) (allocator, Placement) {
	p := Placement{Size: size}
	if a.low <= a.regions.LowEnd && size <= a.regions.LowEnd-a.low {
		p.Base = a.low
		p.Region = Low
		a.low += roundPage(size)
	} else {
		p.Base = a.high
		p.Region = High
		a.high += roundPage(size)
	}
	if end := p.Base + size; end > a.end {
		a.end = end
	}
	return a, p
}

// Allocate assigns a base address to each object size, in order. Placement is
// first fit per object: an object that does not fit in low memory goes to high
// memory even if a later, smaller object would have fit low instead.
func Allocate(r Regions, sizes []uint32) *Layout {
	a := newAllocator(r)
	l := &Layout{Objects: make([]Placement, len(sizes))}
	for i, size := range sizes {
		a, l.Objects[i] = a.place(size)
	}
	l.End = a.end
	return l
}
