package stress

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSampleFormat is returned for a stress sample line that cannot be parsed.
var ErrSampleFormat = errors.New("stress: malformed sample")

// Reader reads stress samples from a text stream. Every non-blank line that does not
// start with '#' holds one sample: the nine components xx xy xz yx yy yz zx zy zz,
// optionally preceded by a step or time column which is ignored.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{sc: bufio.NewScanner(r)}
}

// Line returns the number of the last line read.
func (r *Reader) Line() int { return r.line }

// Next returns the next sample, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (*mat.Dense, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		switch len(fields) {
		case 9:
		case 10:
			fields = fields[1:]
		default:
			return nil, errors.Wrapf(ErrSampleFormat, "line %d: %d columns, want 9 or 10", r.line, len(fields))
		}

		var c [9]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrSampleFormat, "line %d: %v", r.line, err)
			}
			c[i] = v
		}
		return FromComponents(c), nil
	}

	if err := r.sc.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read samples")
	}
	return nil, io.EOF
}
