package multitau

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledChain(t *testing.T, m, p, n int, seed int64) *Chain {
	t.Helper()
	c, err := New(m, p)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		c.Push(rng.NormFloat64())
	}
	return c
}

func TestCheckpointRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		m, p, n int
	}{
		{name: "fresh", m: 2, p: 4, n: 0},
		{name: "single sample", m: 2, p: 4, n: 1},
		{name: "partial buffers", m: 2, p: 8, n: 37},
		{name: "deep", m: 2, p: 16, n: 5000},
		{name: "m three", m: 3, p: 9, n: 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := filledChain(t, tt.m, tt.p, tt.n, 7)

			var first bytes.Buffer
			n, err := c.WriteTo(&first)
			require.NoError(t, err)
			assert.Equal(t, int64(first.Len()), n)

			restored, err := ReadFrom(bytes.NewReader(first.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, c.State(), restored.State())

			var second bytes.Buffer
			_, err = restored.WriteTo(&second)
			require.NoError(t, err)
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestCheckpointResume(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	samples := make([]float64, 3000)
	for i := range samples {
		samples[i] = rng.NormFloat64()
	}

	straight, err := New(2, 8)
	require.NoError(t, err)
	for _, v := range samples {
		straight.Push(v)
	}

	resumed, err := New(2, 8)
	require.NoError(t, err)
	for _, v := range samples[:1111] {
		resumed.Push(v)
	}
	var buf bytes.Buffer
	_, err = resumed.WriteTo(&buf)
	require.NoError(t, err)
	resumed, err = ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1111), resumed.Samples())
	for _, v := range samples[1111:] {
		resumed.Push(v)
	}

	assert.Equal(t, straight.State(), resumed.State())
}

func TestCheckpointFormat(t *testing.T) {
	c, err := New(2, 2)
	require.NoError(t, err)
	c.Push(1)
	c.Push(3)

	var buf bytes.Buffer
	_, err = c.WriteTo(&buf)
	require.NoError(t, err)

	want := strings.Join([]string{
		"2", "2", "0", "0", "3 1 ", "10 3 ", "2 1 ", "0", "0",
		"2", "2", "1", "1", "2 ", "0 0 ", "0 0 ", "2", "1",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestReadFromFixedCapacityRecord(t *testing.T) {
	// buffer zero padded to p, as fixed-capacity writers produce it
	record := "2\n4\n0\n0\n5 0 0 0 \n25 0 0 0 \n1 1 1 1 \n5\n1\n"

	c, err := ReadFrom(strings.NewReader(record))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Depth())
	assert.Equal(t, []float64{5, 0, 0, 0}, c.levels[0].buffer)
	assert.Equal(t, 4, cap(c.levels[0].buffer))
	assert.Equal(t, uint64(1), c.Samples())

	c.Push(1)
	assert.Equal(t, []float64{1, 5, 0, 0}, c.levels[0].buffer)
	assert.Equal(t, 2, c.Depth())
}

func TestReadFromLookahead(t *testing.T) {
	c := filledChain(t, 2, 4, 20, 11)
	var buf bytes.Buffer
	_, err := c.WriteTo(&buf)
	require.NoError(t, err)
	text := buf.String()

	t.Run("blank lines between levels", func(t *testing.T) {
		// every level is nine lines
		lines := strings.SplitAfter(text, "\n")
		var spaced strings.Builder
		for i, line := range lines {
			if i > 0 && i%9 == 0 {
				spaced.WriteString("\n \n")
			}
			spaced.WriteString(line)
		}
		restored, err := ReadFrom(strings.NewReader(spaced.String()))
		require.NoError(t, err)
		assert.Equal(t, c.State(), restored.State())
	})

	t.Run("trailing data ends the chain", func(t *testing.T) {
		restored, err := ReadFrom(strings.NewReader(text + "end of record\n"))
		require.NoError(t, err)
		assert.Equal(t, c.Depth(), restored.Depth())
	})

	t.Run("missing final newline", func(t *testing.T) {
		restored, err := ReadFrom(strings.NewReader(strings.TrimSuffix(text, "\n")))
		require.NoError(t, err)
		assert.Equal(t, c.State(), restored.State())
	})
}

func TestReadFromMalformed(t *testing.T) {
	valid := "2\n2\n0\n0\n3 1 \n10 3 \n2 1 \n0\n0\n"

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "only blanks", input: "\n \n"},
		{name: "not a record", input: "hello\n"},
		{name: "truncated level", input: "2\n2\n0\n0\n3 1 \n"},
		{name: "bad float", input: "2\n2\n0\n0\n3 x \n10 3 \n2 1 \n0\n0\n"},
		{name: "buffer longer than p", input: "2\n2\n0\n0\n3 1 1 \n10 3 \n2 1 \n0\n0\n"},
		{name: "short correlation", input: "2\n2\n0\n0\n3 1 \n10 \n2 1 \n0\n0\n"},
		{name: "negative counter", input: "2\n2\n0\n0\n3 1 \n10 3 \n2 -1 \n0\n0\n"},
		{name: "m of one", input: "1\n2\n0\n0\n3 1 \n10 3 \n2 1 \n0\n0\n"},
		{name: "wrong start_at", input: "2\n2\n0\n1\n3 1 \n10 3 \n2 1 \n0\n0\n"},
		{name: "first level not zero", input: "2\n2\n1\n1\n3 \n0 0 \n0 0 \n0\n0\n"},
		{name: "block count reaches m", input: "2\n2\n0\n0\n3 1 \n10 3 \n2 1 \n4\n2\n"},
		{name: "inconsistent p", input: valid + "2\n4\n1\n2\n2 \n0 0 0 0 \n0 0 0 0 \n2\n1\n"},
		{name: "level number gap", input: valid + "2\n2\n2\n1\n2 \n0 0 \n0 0 \n2\n1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrom(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrMalformedCheckpoint)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := filledChain(t, 2, 8, 999, 5)

	var buf bytes.Buffer
	require.NoError(t, c.Save(&buf))

	restored, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, c.State(), restored.State())
	assert.Equal(t, c.Times(0.1), restored.Times(0.1))

	// restored chains are independent copies
	restored.Push(100)
	assert.NotEqual(t, c.Samples(), restored.Samples())
}

func TestFromStateValidation(t *testing.T) {
	base := filledChain(t, 2, 4, 50, 9).State()

	tests := []struct {
		name   string
		mutate func(*ChainState)
		target error
	}{
		{name: "version", mutate: func(s *ChainState) { s.Version = 2 }},
		{name: "invalid m", mutate: func(s *ChainState) { s.M = 1 }, target: ErrInvalidParameters},
		{name: "no levels", mutate: func(s *ChainState) { s.Levels = nil }, target: ErrMalformedCheckpoint},
		{name: "level number", mutate: func(s *ChainState) { s.Levels[1].Number = 3 }, target: ErrMalformedCheckpoint},
		{name: "start_at", mutate: func(s *ChainState) { s.Levels[1].StartAt = 0 }, target: ErrMalformedCheckpoint},
		{name: "buffer", mutate: func(s *ChainState) { s.Levels[0].Buffer = make([]float64, 5) }, target: ErrMalformedCheckpoint},
		{name: "counter", mutate: func(s *ChainState) { s.Levels[0].Counter = s.Levels[0].Counter[:2] }, target: ErrMalformedCheckpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := filledChain(t, 2, 4, 50, 9).State()
			tt.mutate(&state)
			_, err := FromState(state)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}

	_, err := FromState(base)
	require.NoError(t, err)
}
