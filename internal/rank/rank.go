// Package rank maps cumulative XP onto the Scholar rank ladder.
package rank

import (
	"math"

	"github.com/pavelanni/onimate/internal/model"
)

// Band is one row of the rank ladder.
type Band struct {
	Name       string
	LevelStart int
	LevelEnd   int
	XPStart    int64
	XPEnd      int64
	XPNeeded   int64
}

// Levels returns the number of levels covered by the band.
func (b Band) Levels() int {
	return b.LevelEnd - b.LevelStart + 1
}

// Contains reports whether total falls inside the band's inclusive XP range.
func (b Band) Contains(total int64) bool {
	return total >= b.XPStart && total <= b.XPEnd
}

// The band data is kept exactly as published, including the gap after
// Bronze 1 and the overlapping ranges further up. Lookup is first match
// in table order.
var table = [...]Band{
	{"Bronze 1", 1, 4, 0, 1400, 1400},
	{"Bronze 2", 5, 7, 3000, 620100, 320100},
	{"Bronze 3", 8, 11, 14000, 1240000, 1226000},
	{"Silver 1", 12, 14, 50600, 1491000, 1440400},
	{"Silver 2", 15, 18, 101500, 2109000, 2007500},
	{"Silver 3", 19, 22, 178500, 3311000, 3132500},
	{"Gold 1", 23, 26, 379500, 4575200, 4195700},
	{"Gold 2", 27, 30, 532900, 6044700, 5511800},
	{"Gold 3", 31, 34, 771400, 7499200, 6727800},
	{"Gold 4", 35, 37, 855500, 8710500, 7855000},
	{"Crystal 1", 38, 41, 1491000, 10444000, 8953000},
	{"Crystal 2", 42, 45, 1785000, 12400000, 10615000},
	{"Crystal 3", 46, 49, 2109000, 14325000, 12216000},
	{"Crystal 4", 50, 53, 2470000, 16400000, 13930000},
	{"Obsidian 1", 54, 57, 2870000, 18395000, 15525000},
	{"Obsidian 2", 58, 61, 3311000, 20263000, 16952000},
	{"Obsidian 3", 62, 65, 3795000, 22150000, 18355000},
	{"Obsidian 4", 66, 69, 4324000, 24000000, 19676000},
	{"Inferno 1", 70, 73, 4900000, 26300000, 21400000},
	{"Inferno 2", 74, 77, 5525000, 28730000, 23205000},
	{"Inferno 3", 78, 81, 6201000, 31120000, 24919000},
	{"Inferno 4", 82, 85, 6930000, 33450000, 26520000},
	{"Inferno 5", 86, 89, 7714000, 35720000, 28006000},
	{"Inferno 6", 90, 92, 8555000, 37890000, 29335000},
	{"Phoenix", 93, 100, 9100000, 32835000, 23725000},
}

// Table returns a copy of the rank ladder in lookup order.
func Table() []Band {
	out := make([]Band, len(table))
	copy(out, table[:])
	return out
}

// ForXP returns the Scholar rank for a cumulative XP total.
//
// The first band containing total wins. When no band contains it the last
// band is reported at its top level with xpIntoBlock measured from that
// band's start, which can be negative or exceed xpNeededForBlock.
func ForXP(total int64) model.RankInfo {
	for i, b := range table {
		if !b.Contains(total) {
			continue
		}
		levels := b.Levels()
		into := total - b.XPStart
		span := max(int64(1), b.XPEnd-b.XPStart)
		ratio := math.Min(1, float64(into)/float64(span))
		offset := min(levels-1, int(math.Floor(ratio*float64(levels))))
		return model.RankInfo{
			RankName:         b.Name,
			Level:            b.LevelStart + offset,
			XPIntoBlock:      into,
			XPNeededForBlock: b.XPNeeded,
			XPStart:          b.XPStart,
			XPEnd:            b.XPEnd,
			RowIndex:         i,
		}
	}

	last := table[len(table)-1]
	return model.RankInfo{
		RankName:         last.Name,
		Level:            last.LevelEnd,
		XPIntoBlock:      total - last.XPStart,
		XPNeededForBlock: last.XPNeeded,
		XPStart:          last.XPStart,
		XPEnd:            last.XPEnd,
		RowIndex:         len(table) - 1,
	}
}
