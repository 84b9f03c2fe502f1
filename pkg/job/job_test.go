package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesSlices(t *testing.T) {
	inputs := []string{"a", "b"}
	j := New(inputs, nil, "cat a b")
	inputs[0] = "changed"

	assert.Equal(t, []string{"a", "b"}, j.Inputs)
}

func TestValidInputsSkipsAbsentEntries(t *testing.T) {
	// Optional second read file and reference index are absent.
	j := New([]string{"r1.fastq", "", "  "}, []string{"", "out.sam"}, "bwa mem")

	assert.Equal(t, []string{"r1.fastq"}, j.ValidInputs())
	assert.Equal(t, []string{"out.sam"}, j.ValidOutputs())
}

func TestIsNoop(t *testing.T) {
	assert.True(t, New(nil, nil, "").IsNoop())
	assert.True(t, New(nil, nil, " \n").IsNoop())
	assert.False(t, New(nil, nil, "mkdir -p out").IsNoop())
}

func TestName(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"smrtanalysis_blasr", "sampleA", "coverage_cutoff30X"}, "smrtanalysis_blasr.sampleA.coverage_cutoff30X"},
		{[]string{"trimmomatic", "", "readset1"}, "trimmomatic.readset1"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.parts...))
	}
}

func TestCheckUniqueNames(t *testing.T) {
	a := New(nil, nil, "", WithName("a"))
	b := New(nil, nil, "", WithName("b"))
	a2 := New(nil, nil, "", WithName("a"))

	require.NoError(t, CheckUniqueNames([]*Job{a, b}))

	err := CheckUniqueNames([]*Job{a, b, a2})
	require.Error(t, err)
	var dup *DuplicateJobNameError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "a", dup.Name)
	assert.Equal(t, 0, dup.First)
	assert.Equal(t, 2, dup.Second)
	assert.True(t, errors.Is(err, ErrDuplicateName))
}

func TestConstituentsNilForPlainJob(t *testing.T) {
	j := New(nil, nil, "true")
	assert.False(t, j.IsChain())
	assert.Nil(t, j.Constituents())
}
