// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package erasure

import (
	"github.com/hrissan/sddr/sddrerrors"
)

// Matrix describes a systematic (K+M, K) code over W-byte symbols.
// A symbol is split greedily into parts of 4, 2 and 1 bytes, each part
// is coded independently in the field of matching width.
type Matrix struct {
	k     int
	m     int
	w     int
	parts []part
}

type part struct {
	offset int // byte offset inside symbol
	width  int
	f      field
	coding [][]uint64 // m rows, k columns
}

func NewMatrix(k int, m int, w int) (*Matrix, error) {
	if w < 1 || k < 1 || m < 0 {
		return nil, sddrerrors.ErrInvalidSymbolSize
	}
	mx := &Matrix{k: k, m: m, w: w}
	codings := map[int][][]uint64{}
	for offset := 0; offset < w; {
		width := 1
		switch rem := w - offset; {
		case rem >= 4:
			width = 4
		case rem >= 2:
			width = 2
		}
		f := fieldForWidth(width)
		if uint64(k+m) > f.size() {
			return nil, sddrerrors.ErrMatrixTooLarge
		}
		coding, ok := codings[width]
		if !ok {
			coding = codingRows(f, k, m)
			codings[width] = coding
		}
		mx.parts = append(mx.parts, part{offset: offset, width: width, f: f, coding: coding})
		offset += width
	}
	return mx, nil
}

func (mx *Matrix) K() int { return mx.k }

func (mx *Matrix) M() int { return mx.m }

func (mx *Matrix) W() int { return mx.w }

// N is total number of symbols.
func (mx *Matrix) N() int { return mx.k + mx.m }

// row returns generator row i of part p, identity for i < K.
func (mx *Matrix) row(p *part, i int) []uint64 {
	if i >= mx.k {
		return p.coding[i-mx.k]
	}
	r := make([]uint64, mx.k)
	r[i] = 1
	return r
}

// codingRows returns the bottom m rows of a systematic distribution matrix
// derived from the extended Vandermonde matrix (rows, cols) = (k+m, k).
// Top k rows reduce to identity, the first coding row is all ones and
// every other coding row starts with one.
func codingRows(f field, cols int, m int) [][]uint64 {
	rows := cols + m
	dist := make([][]uint64, rows)
	for i := range dist {
		dist[i] = make([]uint64, cols)
	}
	dist[0][0] = 1
	if rows > 1 {
		dist[rows-1][cols-1] = 1
	}
	for i := 1; i < rows-1; i++ {
		e := uint64(1)
		for j := 0; j < cols; j++ {
			dist[i][j] = e
			e = f.mul(e, uint64(i))
		}
	}
	for i := 1; i < cols; i++ {
		j := i
		for j < rows && dist[j][i] == 0 {
			j++
		}
		if j >= rows {
			panic("erasure: distribution matrix is singular")
		}
		if j != i {
			dist[i], dist[j] = dist[j], dist[i]
		}
		if v := dist[i][i]; v != 1 {
			scale := f.inv(v)
			for r := 0; r < rows; r++ {
				dist[r][i] = f.mul(scale, dist[r][i])
			}
		}
		for c := 0; c < cols; c++ {
			factor := dist[i][c]
			if c == i || factor == 0 {
				continue
			}
			for r := 0; r < rows; r++ {
				dist[r][c] ^= f.mul(factor, dist[r][i])
			}
		}
	}
	if m == 0 {
		return nil
	}
	for c := 0; c < cols; c++ {
		if v := dist[cols][c]; v != 1 {
			scale := f.inv(v)
			for r := cols; r < rows; r++ {
				dist[r][c] = f.mul(scale, dist[r][c])
			}
		}
	}
	for r := cols + 1; r < rows; r++ {
		if v := dist[r][0]; v != 1 {
			scale := f.inv(v)
			for c := 0; c < cols; c++ {
				dist[r][c] = f.mul(dist[r][c], scale)
			}
		}
	}
	return dist[cols:]
}

// invert returns inverse of square matrix a (a is destroyed), false if singular.
func invert(f field, a [][]uint64) ([][]uint64, bool) {
	n := len(a)
	inv := make([][]uint64, n)
	for i := range inv {
		inv[i] = make([]uint64, n)
		inv[i][i] = 1
	}
	for c := 0; c < n; c++ {
		p := c
		for p < n && a[p][c] == 0 {
			p++
		}
		if p == n {
			return nil, false
		}
		a[c], a[p] = a[p], a[c]
		inv[c], inv[p] = inv[p], inv[c]
		if v := a[c][c]; v != 1 {
			scale := f.inv(v)
			for j := 0; j < n; j++ {
				a[c][j] = f.mul(a[c][j], scale)
				inv[c][j] = f.mul(inv[c][j], scale)
			}
		}
		for r := 0; r < n; r++ {
			factor := a[r][c]
			if r == c || factor == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				a[r][j] ^= f.mul(factor, a[c][j])
				inv[r][j] ^= f.mul(factor, inv[c][j])
			}
		}
	}
	return inv, true
}

func getElement(b []byte, width int) uint64 {
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putElement(b []byte, width int, v uint64) {
	for i := 0; i < width; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
