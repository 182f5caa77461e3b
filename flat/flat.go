// Package flat lays out the objects of a 32-bit DOS extender program in a
// single flat address space and produces a memory image where file offset N
// holds the byte loaded at absolute address N.
package flat

// RelocOffset32 is the relocation type for an absolute 32-bit offset. It
// matches the LE/LX fixup source type of the same meaning.
const RelocOffset32 = 0x07

// A Ref is a reference to an address in the program.
type Ref struct {
	Obj int    // 1-based index of object containing target
	Off uint32 // offset within target
}

// A Reloc is a base relocation. The 4 bytes at Src are replaced with the
// final address of Target.
type Reloc struct {
	Type   uint8  // relocation type, only RelocOffset32 is applied
	Src    uint32 // source offset within object data
	Target Ref    // target, where the relocation points to
}

// An Object is a region of memory to be loaded when the program is run.
type Object struct {
	Size   uint32  // size of the region, in memory
	Data   []byte  // data, length may be smaller than region size
	Relocs []Reloc // relocations to apply to data after placement
}

// A Container provides the objects of a program in load order, along with the
// initial EIP and ESP. Object data must not be longer than the object size.
type Container interface {
	Objects() []Object
	Entry() Ref
	Stack() Ref
}
