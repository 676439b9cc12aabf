package modcore_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/stretchr/testify/assert"
)

func TestParameterReadWriteRoundTrip(t *testing.T) {
	p := modcore.NewParameter("gain", modcore.U32, 10, modcore.Public, modcore.Public, nil, nil)

	v, err := p.Read(modcore.U32, modcore.Public)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), v)

	assert.NoError(t, p.Write(modcore.U32, modcore.Public, 20))
	v, err = p.Read(modcore.U32, modcore.Public)
	assert.NoError(t, err)
	assert.Equal(t, uint64(20), v)
}

func TestParameterRejectsTypeMismatch(t *testing.T) {
	p := modcore.NewParameter("gain", modcore.U32, 10, modcore.Public, modcore.Public, nil, nil)
	_, err := p.Read(modcore.U64, modcore.Public)
	assert.True(t, moderr.Is(err, moderr.InvalidParameterType))
}

func TestParameterRejectsAccessAboveGroup(t *testing.T) {
	p := modcore.NewParameter("gain", modcore.U32, 10, modcore.Private, modcore.Private, nil, nil)
	_, err := p.Read(modcore.U32, modcore.Public)
	assert.True(t, moderr.Is(err, moderr.NotPermitted))

	err = p.Write(modcore.U32, modcore.Dependency, 1)
	assert.True(t, moderr.Is(err, moderr.NotPermitted))
}

func TestParameterWriteHookCanVetoOrTransform(t *testing.T) {
	p := modcore.NewParameter("gain", modcore.U32, 10, modcore.Public, modcore.Public, nil,
		func(current, proposed uint64) (uint64, error) {
			return proposed * 2, nil
		})
	assert.NoError(t, p.Write(modcore.U32, modcore.Public, 5))
	v, _ := p.Read(modcore.U32, modcore.Public)
	assert.Equal(t, uint64(10), v)
}

func TestParameterReadHookTransformsObservedValue(t *testing.T) {
	p := modcore.NewParameter("gain", modcore.U32, 10, modcore.Public, modcore.Public,
		func(current uint64) uint64 { return current + 1 }, nil)
	v, err := p.Read(modcore.U32, modcore.Public)
	assert.NoError(t, err)
	assert.Equal(t, uint64(11), v)
}

func TestParamWidthMatchesDeclaredType(t *testing.T) {
	assert.Equal(t, 8, modcore.ParamWidth(modcore.U8))
	assert.Equal(t, 16, modcore.ParamWidth(modcore.I16))
	assert.Equal(t, 32, modcore.ParamWidth(modcore.U32))
	assert.Equal(t, 64, modcore.ParamWidth(modcore.I64))
}
