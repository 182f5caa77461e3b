package flat

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// A WarningKind classifies a relocation that could not be applied normally.
type WarningKind int

const (
	// WarnUnknownType is a relocation with a type other than RelocOffset32.
	// It is skipped.
	WarnUnknownType WarningKind = iota
	// WarnBadTarget is a relocation to an object that does not exist. It is
	// applied as if the target object were at address 0.
	WarnBadTarget
	// WarnPastEnd is a relocation hanging off the end of the object data. It
	// is skipped.
	WarnPastEnd
)

func (k WarningKind) String() string {
	switch k {
	case WarnUnknownType:
		return "unknown relocation type"
	case WarnBadTarget:
		return "relocation target out of range"
	case WarnPastEnd:
		return "relocation past end of data"
	default:
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
}

// A Warning is a non-fatal problem with a single relocation.
type Warning struct {
	Obj   int // 1-based index of object containing the relocation
	Kind  WarningKind
	Reloc Reloc
}

func (w Warning) Error() string {
	r := w.Reloc
	switch w.Kind {
	case WarnUnknownType:
		return fmt.Sprintf("object %d: relocation at 0x%X: %v %d", w.Obj, r.Src, w.Kind, r.Type)
	case WarnBadTarget:
		return fmt.Sprintf("object %d: relocation at 0x%X: %v (object %d)", w.Obj, r.Src, w.Kind, r.Target.Obj)
	default:
		return fmt.Sprintf("object %d: relocation at 0x%X: %v", w.Obj, r.Src, w.Kind)
	}
}

// Warnings is a list of relocation warnings.
type Warnings []Warning

// Err returns the warnings combined into a single error, or nil if there are
// none.
func (ws Warnings) Err() error {
	var err *multierror.Error
	for _, w := range ws {
		err = multierror.Append(err, w)
	}
	return err.ErrorOrNil()
}

// Patch applies relocations to the data of object obj (1-based), in place.
// Relocations are independent of each other. Bad relocations are skipped, or
// applied leniently, and reported as warnings.
func (l *Layout) Patch(obj int, data []byte, relocs []Reloc) Warnings {
	var ws Warnings
	for _, r := range relocs {
		if r.Type != RelocOffset32 {
			ws = append(ws, Warning{Obj: obj, Kind: WarnUnknownType, Reloc: r})
			continue
		}
		base, ok := l.Base(r.Target.Obj)
		if !ok {
			ws = append(ws, Warning{Obj: obj, Kind: WarnBadTarget, Reloc: r})
		}
		val := int32(r.Target.Off) + int32(base)
		if uint64(r.Src)+4 > uint64(len(data)) {
			ws = append(ws, Warning{Obj: obj, Kind: WarnPastEnd, Reloc: r})
			continue
		}
		binary.LittleEndian.PutUint32(data[r.Src:], uint32(val))
	}
	return ws
}
