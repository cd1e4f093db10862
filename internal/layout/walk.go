package layout

// Walk visits, in row-major logical order, every index whose outermost
// coordinate lies in [lo, hi). For each index fn receives the physical
// offset under every stride vector in strides; offs is reused between calls.
func Walk(shape Shape, lo, hi int64, fn func(offs []int64), strides ...[]int64) {
	rank := shape.Rank()
	if rank == 0 || lo >= hi {
		return
	}

	idx := make([]int64, rank)
	offs := make([]int64, len(strides))
	inner := shape.NumElements() / shape.dims[0]

	for o := lo; o < hi; o++ {
		for i := range idx {
			idx[i] = 0
		}

		idx[0] = o

		for n := int64(0); n < inner; n++ {
			for k, st := range strides {
				var off int64
				for d := 0; d < rank; d++ {
					off += idx[d] * st[d]
				}

				offs[k] = off
			}

			fn(offs)

			for d := rank - 1; d > 0; d-- {
				idx[d]++
				if idx[d] < shape.dims[d] {
					break
				}

				idx[d] = 0
			}
		}
	}
}
