package multitau

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// WriteTo writes the chain as a text checkpoint record. Every level is written as nine
// lines (m, p, level number, start_at, buffer, correlation, counter, block sum, block
// count), levels follow each other without a delimiter or a level count.
func (c *Chain) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	for _, l := range c.levels {
		writeLevel(cw, c.m, c.p, l)
	}
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, bw.Flush()
}

func writeLevel(w *countingWriter, m, p int, l *level) {
	w.line(strconv.Itoa(m))
	w.line(strconv.Itoa(p))
	w.line(strconv.Itoa(l.number))
	w.line(strconv.Itoa(l.startAt))

	var sb strings.Builder
	for _, v := range l.buffer {
		sb.WriteString(formatFloat(v))
		sb.WriteByte(' ')
	}
	w.line(sb.String())

	sb.Reset()
	for _, v := range l.correlation {
		sb.WriteString(formatFloat(v))
		sb.WriteByte(' ')
	}
	w.line(sb.String())

	sb.Reset()
	for _, v := range l.counter {
		sb.WriteString(strconv.FormatUint(v, 10))
		sb.WriteByte(' ')
	}
	w.line(sb.String())

	w.line(formatFloat(l.accumulator))
	w.line(strconv.FormatUint(l.accumulated, 10))
}

// formatFloat uses the shortest representation that parses back to the same bits.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (cw *countingWriter) line(s string) {
	if cw.err != nil {
		return
	}
	n, err := cw.w.WriteString(s)
	cw.n += int64(n)
	if err != nil {
		cw.err = err
		return
	}
	if err = cw.w.WriteByte('\n'); err != nil {
		cw.err = err
		return
	}
	cw.n++
}

// ReadFrom reads a chain written by WriteTo. Records of fixed-capacity writers, whose
// buffer lines always hold p (zero padded) values, are accepted too.
//
// After each level the reader looks one line ahead: if the next non-blank line is an
// integer it is the m of another level, anything else ends the chain.
func ReadFrom(r io.Reader) (*Chain, error) {
	lr := newLineReader(r)

	var c *Chain
	for {
		first, ok := lr.nextNonBlank()
		if !ok {
			break
		}
		if _, err := strconv.Atoi(strings.TrimSpace(first)); err != nil {
			if c == nil {
				return nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: expected m, got %q", lr.lineNo, first)
			}
			log.WithField("line", lr.lineNo).Warn("Ignoring trailing data after last level")
			break
		}
		lr.unread(first)

		m, p, l, err := readLevel(lr)
		if err != nil {
			return nil, err
		}

		if c == nil {
			if l.number != 0 {
				return nil, errors.Wrapf(ErrMalformedCheckpoint, "first level has number %d", l.number)
			}
			c = &Chain{m: m, p: p}
		} else if m != c.m || p != c.p || l.number != len(c.levels) {
			return nil, errors.Wrapf(ErrMalformedCheckpoint,
				"level %d: got m=%d p=%d number=%d, want m=%d p=%d number=%d",
				len(c.levels), m, p, l.number, c.m, c.p, len(c.levels))
		}
		c.levels = append(c.levels, l)
	}
	if err := lr.err(); err != nil {
		return nil, errors.Wrap(err, "could not read checkpoint")
	}
	if c == nil {
		return nil, errors.Wrap(ErrMalformedCheckpoint, "no levels")
	}
	return c, nil
}

func readLevel(lr *lineReader) (m, p int, l *level, err error) {
	ints := make([]int, 4)
	for i := range ints {
		s, ok := lr.next()
		if !ok {
			return 0, 0, nil, lr.truncated()
		}
		ints[i], err = strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %v", lr.lineNo, err)
		}
	}
	m, p = ints[0], ints[1]
	if m < 2 || p < 1 {
		return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "level parameters m=%d p=%d", m, p)
	}

	l = &level{number: ints[2], startAt: ints[3]}
	want := 0
	if l.number > 0 {
		want = p / m
	}
	if l.number < 0 || l.startAt != want {
		return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: start_at %d, want %d", l.number, l.startAt, want)
	}

	if l.buffer, err = lr.floats(0, p); err != nil {
		return 0, 0, nil, err
	}
	// keep capacity p so that add never reallocates
	buffer := make([]float64, len(l.buffer), p)
	copy(buffer, l.buffer)
	l.buffer = buffer

	if l.correlation, err = lr.floats(p, p); err != nil {
		return 0, 0, nil, err
	}
	if l.counter, err = lr.uints(p); err != nil {
		return 0, 0, nil, err
	}

	s, ok := lr.next()
	if !ok {
		return 0, 0, nil, lr.truncated()
	}
	if l.accumulator, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %v", lr.lineNo, err)
	}
	s, ok = lr.next()
	if !ok {
		return 0, 0, nil, lr.truncated()
	}
	if l.accumulated, err = strconv.ParseUint(strings.TrimSpace(s), 10, 64); err != nil {
		return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %v", lr.lineNo, err)
	}
	if l.accumulated >= uint64(m) {
		return 0, 0, nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: block count %d >= m", l.number, l.accumulated)
	}
	return m, p, l, nil
}

// lineReader is a line scanner with a one-line pushback.
type lineReader struct {
	sc      *bufio.Scanner
	pending *string
	lineNo  int
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	// a correlation line of a large p easily exceeds the default token size
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &lineReader{sc: sc}
}

func (lr *lineReader) next() (string, bool) {
	if lr.pending != nil {
		s := *lr.pending
		lr.pending = nil
		lr.lineNo++
		return s, true
	}
	if !lr.sc.Scan() {
		return "", false
	}
	lr.lineNo++
	return lr.sc.Text(), true
}

func (lr *lineReader) nextNonBlank() (string, bool) {
	for {
		s, ok := lr.next()
		if !ok {
			return "", false
		}
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
}

func (lr *lineReader) unread(s string) {
	lr.pending = &s
	lr.lineNo--
}

func (lr *lineReader) err() error {
	return lr.sc.Err()
}

func (lr *lineReader) truncated() error {
	if err := lr.sc.Err(); err != nil {
		return errors.Wrap(err, "could not read checkpoint")
	}
	return errors.Wrapf(ErrMalformedCheckpoint, "truncated after line %d", lr.lineNo)
}

// floats reads one line holding between lo and hi whitespace-separated floats.
func (lr *lineReader) floats(lo, hi int) ([]float64, error) {
	s, ok := lr.next()
	if !ok {
		return nil, lr.truncated()
	}
	fields := strings.Fields(s)
	if len(fields) < lo || len(fields) > hi {
		return nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %d values, want %d..%d", lr.lineNo, len(fields), lo, hi)
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %v", lr.lineNo, err)
		}
		out[i] = v
	}
	return out, nil
}

func (lr *lineReader) uints(n int) ([]uint64, error) {
	s, ok := lr.next()
	if !ok {
		return nil, lr.truncated()
	}
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %d counters, want %d", lr.lineNo, len(fields), n)
	}
	out := make([]uint64, n)
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "line %d: %v", lr.lineNo, err)
		}
		out[i] = v
	}
	return out, nil
}
