// Package module provides an interface to LE linear executable modules.
package module

import "fmt"

// An ObjFlag is a set of flags for an object in an LE/LX executable.
type ObjFlag uint32

const (
	// ObjR indicates a readable object
	ObjR ObjFlag = 0x0001
	// ObjW indicates a writable object
	ObjW ObjFlag = 0x0002
	// ObjX indicates an executable object
	ObjX ObjFlag = 0x0004
	// Obj32Bit indicates the object is 32-bit
	Obj32Bit ObjFlag = 0x2000
)

// A SrcType is a fixup source type. These values match the LE/LX exe values.
type SrcType uint8

const (
	// SrcOffset32 indicates an absolute 32-bit offset.
	SrcOffset32 SrcType = 0x07
	// SrcRelative32 indicates a self-relative 32-bit offset.
	SrcRelative32 SrcType = 0x08

	// srcList indicates that the record has a list of source offsets.
	srcList SrcType = 0x20
)

// Fixup record target flags.
const (
	tgtInternal  = 0x00
	tgtTypeMask  = 0x03
	tgtAdditive  = 0x04
	tgtOff32     = 0x10
	tgtAdd32     = 0x20
	tgtObjNum16  = 0x40
	tgtOrdinal8  = 0x80
	tgtKnownMask = tgtTypeMask | tgtAdditive | tgtOff32 | tgtAdd32 | tgtObjNum16 | tgtOrdinal8
)

// A Fixup describes how a single reference in an object should be fixed after
// it is loaded into memory.
type Fixup struct {
	SrcType SrcType // type of source reference to fix
	Src     int32   // source offset within object
	Target  Ref     // target, where the relocation points to
	Add     int32   // value to add to offset
}

// A Ref is a reference to an address in the program.
type Ref struct {
	Obj int32 // 1-based index of object containing target
	Off int32 // offset within target
}

// A ProgramHeader is the LE/LX header, which follows the DOS stub.
type ProgramHeader struct {
	Signature                 [2]byte
	ByteOrder                 uint8
	WordOrder                 uint8
	FormatLevel               uint32
	CPUType                   uint16
	OSType                    uint16
	ModuleVersion             uint32
	ModuleFlags               uint32
	ModuleNumPages            uint32
	EIP                       Ref
	ESP                       Ref
	PageSize                  uint32
	LastPageSize              uint32
	FixupSectionSize          uint32
	FixupSectionChecksum      uint32
	LoaderSectionSize         uint32
	LoaderSectionChecksum     uint32
	ObjectTableOffset         uint32
	NumObjects                uint32
	ObjectPageTableOffset     uint32
	ObjectIterPageTableOffset uint32
	ResourceTableOffset       uint32
	NumResourceTableEntries   uint32
	ResidentNameTableOffset   uint32
	EntryTableOffset          uint32
	ModuleDirectivesOffset    uint32
	NumModuleDirectives       uint32
	FixupPageTableOffset      uint32
	FixupRecordOffset         uint32
	ImportModuleTableOffset   uint32
	ImportModuleEntryCount    uint32
	ImportProcTableOffset     uint32
	PerPageChecksumOffset     uint32
	DataPagesOffset           uint32
	NumPreloadPages           uint32
	NonResNameTableOffset     uint32
	NonResNameTableLength     uint32
	NonResNameTableChecksum   uint32
	AutoDSObject              uint32
	DebugInfoOffset           uint32
	DebugInfoLength           uint32
	NumInstancePreload        uint32
	NumInstanceDemand         uint32
	HeapSize                  uint32
}

// IsLE returns true if the header has the LE signature.
func (h *ProgramHeader) IsLE() bool {
	return h.Signature == [2]byte{'L', 'E'}
}

// IsLX returns true if the header has the LX signature.
func (h *ProgramHeader) IsLX() bool {
	return h.Signature == [2]byte{'L', 'X'}
}

// An ObjectHeader is an entry in the object table.
type ObjectHeader struct {
	VirtualSize         uint32
	BaseAddress         uint32
	Flags               ObjFlag
	PageTableIndex      uint32
	NumPageTableEntries uint32
	Reserved            uint32
}

// An Object is a region of memory to be loaded when the program is run.
type Object struct {
	ObjectHeader
	Data   []byte  // data, length may be smaller than region size
	Fixups []Fixup // list of fixups to apply to data after loading
}

// A Program is an LE/LX format executable.
type Program struct {
	ProgramHeader
	Stub    []byte    // DOS program preceding the LE/LX header, may be empty
	Objects []*Object // objects to load
}

// A FormatError is returned when the input is not a well-formed executable.
type FormatError struct {
	Off int64 // offset in the file, or -1 if unknown
	Msg string
}

func (e *FormatError) Error() string {
	if e.Off < 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s (at 0x%x)", e.Msg, e.Off)
}

func formatError(off int64, format string, a ...interface{}) error {
	return &FormatError{Off: off, Msg: fmt.Sprintf(format, a...)}
}
