package jit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangzhangming/novajit/internal/bytecode"
	jiterr "github.com/tangzhangming/novajit/internal/errors"
)

func TestByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1MiB", 1 << 20},
		{"512k", 512 << 10},
		{"64KiB", 64 << 10},
		{"4096", 4096},
	}
	for _, tt := range tests {
		var s ByteSize
		require.NoError(t, s.UnmarshalText([]byte(tt.in)), tt.in)
		assert.Equal(t, tt.want, s, tt.in)
	}

	var s ByteSize
	assert.Error(t, s.UnmarshalText([]byte("lots")))

	text, err := ByteSize(1 << 20).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1MiB", string(text))
	assert.Equal(t, "64KiB", ByteSize(64<<10).String())
}

func TestConfigFromTOML(t *testing.T) {
	src := `
buffer_size = "2MiB"
dump_disasm = true

[layout]
frame_size = 64
sp_offset = 8
self_offset = 24
ep_offset = 32
ec_cfp_offset = 16
value_size = 8
env_header_slots = 3
`
	cfg := DefaultConfig()
	require.NoError(t, toml.Unmarshal([]byte(src), &cfg))
	assert.Equal(t, ByteSize(2<<20), cfg.BufferSize)
	assert.True(t, cfg.DumpDisasm)
	assert.Equal(t, int32(64), cfg.Layout.FrameSize)
	assert.Equal(t, 8, cfg.Layout.Slots())
	assert.NoError(t, cfg.Validate())

	out, err := toml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "2MiB")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ByteSize(1<<20), cfg.BufferSize)
	assert.False(t, cfg.DumpDisasm)
	assert.Equal(t, 7, cfg.Layout.Slots())

	cfg.BufferSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Layout)
	}{
		{"value size", func(l *Layout) { l.ValueSize = 4 }},
		{"env header", func(l *Layout) { l.EnvHeaderSlots = 2 }},
		{"frame size zero", func(l *Layout) { l.FrameSize = 0 }},
		{"frame size unaligned", func(l *Layout) { l.FrameSize = 60 }},
		{"sp outside frame", func(l *Layout) { l.SPOffset = 56 }},
		{"self negative", func(l *Layout) { l.SelfOffset = -8 }},
		{"ep unaligned", func(l *Layout) { l.EPOffset = 33 }},
		{"sp and ep shared", func(l *Layout) { l.EPOffset = l.SPOffset }},
		{"ec cfp unaligned", func(l *Layout) { l.ECCFPOffset = 12 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.edit(&l)
			err := l.Validate()
			assert.ErrorIs(t, err, jiterr.ErrLayout)
		})
	}
}

func TestCodeMap(t *testing.T) {
	cm := NewCodeMap()
	fib := bytecode.NewMethod("fib", 1, nil)
	main := bytecode.NewMethod("main", 0, nil)
	cm.Insert(CodeEntry{Addr: 0x2000, Size: 0x40, Method: main})
	cm.Insert(CodeEntry{Addr: 0x1000, Size: 0x20, Method: fib, Fingerprint: [32]byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3}})
	require.Equal(t, 2, cm.Len())

	e, ok := cm.Find(0x1010)
	require.True(t, ok)
	assert.Equal(t, fib, e.Method)
	_, ok = cm.Find(0x1020)
	assert.False(t, ok, "gap after fib")
	_, ok = cm.Find(0x0fff)
	assert.False(t, ok)

	name, start := cm.Lookup(0x203f)
	assert.Equal(t, "main", name)
	assert.Equal(t, uint64(0x2000), start)
	name, _ = cm.Lookup(0x3000)
	assert.Empty(t, name)

	entries := cm.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uintptr(0x1000), entries[0].Addr)

	var buf bytes.Buffer
	_, err := cm.WriteTo(&buf)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[0])
	require.Len(t, fields, 4)
	assert.True(t, strings.HasSuffix(fields[0], "1000"), fields[0])
	assert.Equal(t, []string{"32", "fib/1", "deadbeef0102"}, fields[1:])
}

func TestStatsJSON(t *testing.T) {
	var s Stats
	s.Methods.Inc()
	s.Methods.Inc()
	s.Bytes.Add(128)
	s.Links.Inc()
	snap := s.Snapshot()
	snap.BufferUsed, snap.BufferSize = 128, 1<<20

	data, err := snap.JSON()
	require.NoError(t, err)
	var got map[string]int64
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(2), got["methods"])
	assert.Equal(t, int64(128), got["bytes"])
	assert.Equal(t, int64(1), got["links"])
	assert.Equal(t, int64(1<<20), got["buffer_size"])
	assert.Contains(t, got, "compile_time_ns")

	assert.Contains(t, snap.String(), "2 methods, 128B of code (128B/1MiB buffer)")
}
