package flat

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContainer struct {
	objs         []Object
	entry, stack Ref
}

func (c *testContainer) Objects() []Object { return c.objs }
func (c *testContainer) Entry() Ref        { return c.entry }
func (c *testContainer) Stack() Ref        { return c.stack }

func writeImage(t *testing.T, img *Image) []byte {
	t.Helper()
	fs := afero.NewMemMapFs()
	f, err := fs.Create("out.FLAT")
	require.NoError(t, err)
	require.NoError(t, img.WriteFile(f))
	require.NoError(t, f.Close())
	data, err := afero.ReadFile(fs, "out.FLAT")
	require.NoError(t, err)
	return data
}

func TestBuildHighMemory(t *testing.T) {
	code := []byte{0xB8, 0, 0, 0, 0, 0xC3}
	c := &testContainer{
		objs: []Object{
			{
				Size: 0x100,
				Data: code,
				Relocs: []Reloc{
					{Type: RelocOffset32, Src: 1, Target: Ref{Obj: 2, Off: 0x10}},
				},
			},
			{Size: 0x2000000, Data: []byte{1, 2, 3, 4}},
		},
		entry: Ref{Obj: 1, Off: 0},
		stack: Ref{Obj: 2, Off: 0x1000},
	}
	img, err := Build(c, DefaultRegions())
	require.NoError(t, err)
	assert.Empty(t, img.Warnings)
	assert.Equal(t, uint32(0xE000), img.Objects[0].Base)
	assert.Equal(t, uint32(0x110000), img.Objects[1].Base)
	assert.Equal(t, uint32(0x2110000), img.End)
	assert.Equal(t, uint32(0xE000), img.Entry)
	assert.Equal(t, uint32(0x111000), img.Stack)
	assert.Equal(t, []byte{0xB8, 0x10, 0x00, 0x11, 0x00, 0xC3}, img.Segments[0])
	// Container data is left alone.
	assert.Equal(t, []byte{0xB8, 0, 0, 0, 0, 0xC3}, code)

	out := writeImage(t, img)
	require.Len(t, out, 0x2110000)
	assert.Equal(t, img.Segments[0], out[0xE000:0xE006])
	assert.Equal(t, []byte{1, 2, 3, 4}, out[0x110000:0x110004])
	for _, rng := range [][2]int{{0, 0xE000}, {0xE006, 0x110000}, {0x110004, len(out)}} {
		assert.True(t, allZero(out[rng[0]:rng[1]]), "range 0x%X-0x%X not zero", rng[0], rng[1])
	}
}

func TestBuildLenientTarget(t *testing.T) {
	c := &testContainer{
		objs: []Object{
			{
				Size: 0x10,
				Data: make([]byte, 8),
				Relocs: []Reloc{
					{Type: RelocOffset32, Src: 0, Target: Ref{Obj: 99, Off: 0x20}},
					{Type: 0x02, Src: 4, Target: Ref{Obj: 1}},
				},
			},
			{Size: 0x10},
		},
		entry: Ref{Obj: 1},
		stack: Ref{Obj: 2, Off: 0x10},
	}
	img, err := Build(c, DefaultRegions())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0, 0, 0, 0, 0, 0, 0}, img.Segments[0])
	require.Len(t, img.Warnings, 2)
	assert.Equal(t, WarnBadTarget, img.Warnings[0].Kind)
	assert.Equal(t, WarnUnknownType, img.Warnings[1].Kind)

	out := writeImage(t, img)
	assert.Len(t, out, int(img.End))
	assert.Equal(t, uint32(0xF010), img.End)
}

func TestBuildBadRef(t *testing.T) {
	c := &testContainer{
		objs:  []Object{{Size: 0x10}},
		entry: Ref{Obj: 1},
		stack: Ref{Obj: 2},
	}
	_, err := Build(c, DefaultRegions())
	require.Error(t, err)
	assert.Equal(t, ErrBadRef, errors.Cause(err))
	assert.Contains(t, err.Error(), "stack pointer in object 2")

	c.entry = Ref{Obj: 0}
	_, err = Build(c, DefaultRegions())
	assert.Contains(t, err.Error(), "entry point in object 0")
}

func TestWriteFileTruncates(t *testing.T) {
	// Data beyond the virtual size of the last object is cut off.
	img := &Image{
		Layout: Layout{
			Objects: []Placement{{Base: 0x10, Size: 2}},
			End:     0x12,
		},
		Segments: [][]byte{{1, 2, 3, 4}},
	}
	out := writeImage(t, img)
	assert.Len(t, out, 0x12)
	assert.Equal(t, []byte{1, 2}, out[0x10:])
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
