package exec

import "github.com/korivak/graphcore/internal/vector"

// Source is anything a Scan operator can pull row ranges from —
// satisfied directly by *nodegroup.Group.
type Source interface {
	NumRows() int
	Scan(start, count int, out *vector.Chunk) error
}

// MorselBounder is an optional Source capability: it caps a morsel
// starting at pos so it never crosses a node-group boundary (spec §4.H:
// "guarantees each morsel belongs to exactly one node-group so downstream
// sees homogeneous compression"). *nodegroup.Table implements this;
// *nodegroup.Group does not need to since it IS a single group.
type MorselBounder interface {
	MorselEnd(pos int) int
}

// Scan is the leaf operator that reads committed node/rel storage in
// Capacity-sized morsels (spec §4.H).
type Scan struct {
	src       Source
	types     []vector.Type
	nullable  []bool
	batchSize int

	pos int
}

// NewScan builds a Scan operator pulling from src, producing chunks whose
// vectors have the given types/nullability in order.
func NewScan(src Source, types []vector.Type, nullable []bool) *Scan {
	return &Scan{src: src, types: types, nullable: nullable, batchSize: vector.Capacity}
}

func (s *Scan) Init(ctx *Context) error {
	s.pos = 0
	return nil
}

func (s *Scan) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	total := s.src.NumRows()
	if s.pos >= total {
		return nil, nil
	}
	n := s.batchSize
	if remaining := total - s.pos; n > remaining {
		n = remaining
	}
	if mb, ok := s.src.(MorselBounder); ok {
		if end := mb.MorselEnd(s.pos); end-s.pos < n {
			n = end - s.pos
		}
	}
	st := vector.NewUnflat(n)
	vecs := make([]*vector.Vector, len(s.types))
	for i, t := range s.types {
		vecs[i] = vector.New(t, st, s.nullable[i])
	}
	out := vector.NewChunk(st, vecs...)
	if err := s.src.Scan(s.pos, n, out); err != nil {
		return nil, err
	}
	s.pos += n
	ctx.record("scan")
	return out, nil
}
