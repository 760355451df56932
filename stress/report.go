package stress

import (
	"bytes"
	"io"
	"strconv"

	"github.com/n0madic/go-multitau/multitau"
)

// Report holds the six autocorrelation functions on their common lag axis.
type Report struct {
	Volume      float64
	Temperature float64

	Times   []float64
	ACF     [NumQuantities][]float64
	Samples [NumQuantities][]uint64 // products behind each ACF value
}

// Len returns the number of lags in the report.
func (r *Report) Len() int { return len(r.Times) }

// Pairs returns the (lag, ACF) sequence of q.
func (r *Report) Pairs(q Quantity) []multitau.Point {
	points := make([]multitau.Point, len(r.Times))
	for i, lag := range r.Times {
		points[i] = multitau.Point{Lag: lag, Value: r.ACF[q][i], Samples: r.Samples[q][i]}
	}
	return points
}

// Modulus returns the shear relaxation modulus of an isotropic system,
//
//	G(t) = V/(5kT) Σ<σαβ(0)σαβ(t)> + V/(30kT) Σ<Nαβ(0)Nαβ(t)>
//
// where the sums run over the three shear components and the three normal stress
// differences.
func (r *Report) Modulus(volume, temperature float64) []float64 {
	shear := volume / (5 * temperature)
	normal := volume / (30 * temperature)

	g := make([]float64, len(r.Times))
	for i := range g {
		g[i] = shear*(r.ACF[ShearXY][i]+r.ACF[ShearYZ][i]+r.ACF[ShearXZ][i]) +
			normal*(r.ACF[NormalXY][i]+r.ACF[NormalYZ][i]+r.ACF[NormalXZ][i])
	}
	return g
}

// WriteTo writes the report as a whitespace separated table with the columns
// t, G(t) and the six autocorrelations. Lags without any sample are skipped.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	buf.WriteString("# t G(t)")
	for _, q := range Quantities() {
		buf.WriteByte(' ')
		buf.WriteString(q.String())
	}
	buf.WriteByte('\n')

	g := r.Modulus(r.Volume, r.Temperature)
	row := make([]byte, 0, 256)
	for i, lag := range r.Times {
		if r.Samples[ShearXY][i] == 0 {
			continue
		}
		row = strconv.AppendFloat(row[:0], lag, 'g', -1, 64)
		row = append(row, ' ')
		row = strconv.AppendFloat(row, g[i], 'g', -1, 64)
		for q := range r.ACF {
			row = append(row, ' ')
			row = strconv.AppendFloat(row, r.ACF[q][i], 'g', -1, 64)
		}
		row = append(row, '\n')
		buf.Write(row)
	}

	return buf.WriteTo(w)
}
