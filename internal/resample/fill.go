package resample

import "myxcli/internal/dataset"

// fillState is the forward-fill accumulator for exactly one column of one
// partition. It is created inside fillColumn and never escapes the call, so
// no fill state can leak across columns or partitions.
type fillState struct {
	last    dataset.Value // last observed (non-imputed) value
	hasLast bool
	run     int // length of the current missing run
}

// fillColumn forward-fills missing runs in place and returns the imputed
// mask. A maximal run of up to maxRun consecutive missing positions is filled
// entirely from the last observed value of this column; a longer run is left
// null in every position and the next observed value starts the state fresh.
// Runs before the first observed value can never be filled.
func fillColumn(vals []dataset.Value, maxRun int) []bool {
	imputed := make([]bool, len(vals))
	st := fillState{}

	flush := func(end int) {
		// end is the first index past the run (an observed value or len).
		if st.run == 0 {
			return
		}
		if st.hasLast && st.run <= maxRun {
			for i := end - st.run; i < end; i++ {
				vals[i] = st.last
				imputed[i] = true
			}
		}
		st.run = 0
	}

	for i, v := range vals {
		if v.Valid {
			flush(i)
			st.last = v
			st.hasLast = true
			continue
		}
		st.run++
	}
	flush(len(vals))

	return imputed
}
