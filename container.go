package main

import (
	"moria.us/dos2flat/flat"
	"moria.us/dos2flat/module"
)

// An leContainer exposes the objects of an LE module for placement.
type leContainer struct {
	prog *module.Program
}

func convertRef(r module.Ref) flat.Ref {
	return flat.Ref{
		Obj: int(r.Obj),
		Off: uint32(r.Off),
	}
}

// convertFixup converts an LE fixup to a relocation. The additive value is
// folded into the target offset.
func convertFixup(f module.Fixup) flat.Reloc {
	return flat.Reloc{
		Type: uint8(f.SrcType),
		Src:  uint32(f.Src),
		Target: flat.Ref{
			Obj: int(f.Target.Obj),
			Off: uint32(f.Target.Off + f.Add),
		},
	}
}

func (c leContainer) Objects() []flat.Object {
	objs := make([]flat.Object, len(c.prog.Objects))
	for i, obj := range c.prog.Objects {
		relocs := make([]flat.Reloc, len(obj.Fixups))
		for j, f := range obj.Fixups {
			relocs[j] = convertFixup(f)
		}
		objs[i] = flat.Object{
			Size:   obj.VirtualSize,
			Data:   obj.Data,
			Relocs: relocs,
		}
	}
	return objs
}

func (c leContainer) Entry() flat.Ref {
	return convertRef(c.prog.EIP)
}

func (c leContainer) Stack() flat.Ref {
	return convertRef(c.prog.ESP)
}
