package flat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch(t *testing.T) {
	l := Allocate(DefaultRegions(), []uint32{0x100, 0x2000000})
	tests := []struct {
		name  string
		reloc Reloc
		want  []byte
		kinds []WarningKind
	}{
		{
			name:  "offset into high object",
			reloc: Reloc{Type: RelocOffset32, Src: 0, Target: Ref{Obj: 2, Off: 0x10}},
			want:  []byte{0x10, 0x00, 0x11, 0x00, 0xAA, 0xAA, 0xAA, 0xAA},
		},
		{
			name:  "offset into self at end of data",
			reloc: Reloc{Type: RelocOffset32, Src: 4, Target: Ref{Obj: 1, Off: 0x44}},
			want:  []byte{0xAA, 0xAA, 0xAA, 0xAA, 0x44, 0xE0, 0x00, 0x00},
		},
		{
			name:  "wraps around",
			reloc: Reloc{Type: RelocOffset32, Src: 2, Target: Ref{Obj: 2, Off: 0xFFF00000}},
			want:  []byte{0xAA, 0xAA, 0x00, 0x00, 0x01, 0x00, 0xAA, 0xAA},
		},
		{
			name:  "target out of range",
			reloc: Reloc{Type: RelocOffset32, Src: 0, Target: Ref{Obj: 99, Off: 0x1234}},
			want:  []byte{0x34, 0x12, 0x00, 0x00, 0xAA, 0xAA, 0xAA, 0xAA},
			kinds: []WarningKind{WarnBadTarget},
		},
		{
			name:  "unknown type",
			reloc: Reloc{Type: 0x08, Src: 0, Target: Ref{Obj: 1}},
			want:  []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
			kinds: []WarningKind{WarnUnknownType},
		},
		{
			name:  "past end",
			reloc: Reloc{Type: RelocOffset32, Src: 5, Target: Ref{Obj: 1}},
			want:  []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
			kinds: []WarningKind{WarnPastEnd},
		},
		{
			name:  "far past end",
			reloc: Reloc{Type: RelocOffset32, Src: 0xFFFFFFFE, Target: Ref{Obj: 1}},
			want:  []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
			kinds: []WarningKind{WarnPastEnd},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
			ws := l.Patch(1, data, []Reloc{tt.reloc})
			assert.Equal(t, tt.want, data)
			var kinds []WarningKind
			for _, w := range ws {
				assert.Equal(t, 1, w.Obj)
				assert.Equal(t, tt.reloc, w.Reloc)
				kinds = append(kinds, w.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestPatchIndependent(t *testing.T) {
	l := Allocate(DefaultRegions(), []uint32{0x1000})
	data := make([]byte, 12)
	ws := l.Patch(1, data, []Reloc{
		{Type: RelocOffset32, Src: 0, Target: Ref{Obj: 1, Off: 1}},
		{Type: 0x05, Src: 4, Target: Ref{Obj: 1, Off: 2}},
		{Type: RelocOffset32, Src: 10, Target: Ref{Obj: 1, Off: 3}},
		{Type: RelocOffset32, Src: 8, Target: Ref{Obj: 1, Off: 4}},
	})
	assert.Equal(t, []byte{
		0x01, 0xE0, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x04, 0xE0, 0x00, 0x00,
	}, data)
	require.Len(t, ws, 2)
	assert.Equal(t, WarnUnknownType, ws[0].Kind)
	assert.Equal(t, WarnPastEnd, ws[1].Kind)
}

func TestWarningsErr(t *testing.T) {
	assert.NoError(t, Warnings(nil).Err())

	ws := Warnings{
		{Obj: 1, Kind: WarnUnknownType, Reloc: Reloc{Type: 3, Src: 0x10}},
		{Obj: 2, Kind: WarnBadTarget, Reloc: Reloc{Type: 7, Src: 0x20, Target: Ref{Obj: 9}}},
	}
	err := ws.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "object 1: relocation at 0x10: unknown relocation type 3")
	assert.Contains(t, err.Error(), "object 2: relocation at 0x20: relocation target out of range (object 9)")
}
