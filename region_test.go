package heapalloc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegion(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		bmin    int
		wantErr bool
	}{
		{"exact_bmin", 24, 24, false},
		{"larger", 4096, 24, false},
		{"too_small", 16, 24, true},
		{"zero", 0, 24, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRegion(make([]byte, tt.size), tt.bmin)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegionResetIsSingleFreeBlock(t *testing.T) {
	r, err := newRegion(make([]byte, 256), 24)
	require.NoError(t, err)

	h := r.headerAt(0)
	assert.True(t, r.isFree(h))
	assert.Equal(t, 256-W, r.payloadSize(h))
	assert.Equal(t, W, r.nused)
}

func TestRegionHeaderCodecRoundTrips(t *testing.T) {
	r, err := newRegion(make([]byte, 256), 24)
	require.NoError(t, err)

	h := r.headerAt(0)
	r.setHeader(h, 128, true)
	assert.False(t, r.isFree(h))
	assert.Equal(t, 128, r.payloadSize(h))

	r.setHeader(h, 64, false)
	assert.True(t, r.isFree(h))
	assert.Equal(t, 64, r.payloadSize(h))
}

func TestRegionOffsetOf(t *testing.T) {
	r, err := newRegion(make([]byte, 256), 24)
	require.NoError(t, err)

	_, ok := r.offsetOf(nil)
	assert.False(t, ok)

	_, ok = r.offsetOf([]byte{})
	assert.False(t, ok)

	foreign := make([]byte, 16)
	_, ok = r.offsetOf(foreign)
	assert.False(t, ok)

	headerOffset, ok := r.offsetOf(r.arena[W : W+8])
	require.True(t, ok)
	assert.Equal(t, 0, headerOffset)
}

func TestRegionValidateRequest(t *testing.T) {
	r, err := newRegion(make([]byte, 256), 24)
	require.NoError(t, err)

	_, ok := r.validateRequest(0, 16, &bytes.Buffer{})
	assert.False(t, ok)

	_, ok = r.validateRequest(-1, 16, &bytes.Buffer{})
	assert.False(t, ok)

	need, ok := r.validateRequest(1, 16, &bytes.Buffer{})
	require.True(t, ok)
	assert.Equal(t, 16, need)

	need, ok = r.validateRequest(20, 16, &bytes.Buffer{})
	require.True(t, ok)
	assert.Equal(t, 24, need)

	var out bytes.Buffer
	_, ok = r.validateRequest(1000, 16, &out)
	assert.False(t, ok)
	assert.NotEmpty(t, out.String())
}

func TestRoundUp(t *testing.T) {
	tests := []struct{ sz, mult, want int }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{23, 8, 24},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roundUp(tt.sz, tt.mult))
	}
}
