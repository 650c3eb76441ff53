package experiment

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Profile is one checkpoint averaged over replicates.
type Profile struct {
	Index  int
	Target float64

	PopulationMean []float64
	PopulationStd  []float64
	GrowthMean     []float64
	GrowthStd      []float64
	NutrientMean   []float64

	TotalMean float64
	TotalStd  float64
	FrontMean float64 // over surviving replicates, -1 when none survive
	FrontStd  float64
	Extinct   int // replicates extinct at this checkpoint
	Late      int // replicates whose checkpoint missed the tolerance
}

// Average reduces trajectories to per-checkpoint, per-site means and standard
// deviations. All trajectories must share checkpoint count and lattice length.
func Average(trajectories []Trajectory) ([]Profile, error) {
	if len(trajectories) == 0 {
		return nil, errors.New("no trajectories to average")
	}
	nCp := len(trajectories[0].Checkpoints)
	if nCp == 0 {
		return nil, errors.New("trajectory has no checkpoints")
	}
	length := len(trajectories[0].Checkpoints[0].Distribution)
	for _, tr := range trajectories {
		if len(tr.Checkpoints) != nCp {
			return nil, fmt.Errorf("replicate %d has %d checkpoints, want %d", tr.Replicate, len(tr.Checkpoints), nCp)
		}
		for _, cp := range tr.Checkpoints {
			if len(cp.Distribution) != length || len(cp.GrowthRates) != length || len(cp.Nutrients) != length {
				return nil, fmt.Errorf("replicate %d checkpoint %d: lattice length mismatch", tr.Replicate, cp.Index)
			}
		}
	}

	n := len(trajectories)
	pop := make([]float64, n)
	growth := make([]float64, n)
	nutrient := make([]float64, n)
	totals := make([]float64, n)

	profiles := make([]Profile, nCp)
	for k := range profiles {
		first := trajectories[0].Checkpoints[k]
		pr := Profile{
			Index:          first.Index,
			Target:         first.Target,
			PopulationMean: make([]float64, length),
			PopulationStd:  make([]float64, length),
			GrowthMean:     make([]float64, length),
			GrowthStd:      make([]float64, length),
			NutrientMean:   make([]float64, length),
		}

		for i := 0; i < length; i++ {
			for r, tr := range trajectories {
				cp := tr.Checkpoints[k]
				pop[r] = float64(cp.Distribution[i])
				growth[r] = cp.GrowthRates[i]
				nutrient[r] = float64(cp.Nutrients[i])
			}
			pr.PopulationMean[i], pr.PopulationStd[i] = meanStd(pop)
			pr.GrowthMean[i], pr.GrowthStd[i] = meanStd(growth)
			pr.NutrientMean[i] = floats.Sum(nutrient) / float64(n)
		}

		var fronts []float64
		for r, tr := range trajectories {
			cp := tr.Checkpoints[k]
			totals[r] = float64(cp.Population)
			if cp.Extinct {
				pr.Extinct++
			}
			if cp.Late() {
				pr.Late++
			}
			if cp.Front >= 0 {
				fronts = append(fronts, float64(cp.Front))
			}
		}
		pr.TotalMean, pr.TotalStd = meanStd(totals)
		pr.FrontMean, pr.FrontStd = -1, 0
		if len(fronts) > 0 {
			pr.FrontMean, pr.FrontStd = meanStd(fronts)
		}

		profiles[k] = pr
	}
	return profiles, nil
}

// meanStd is stat.MeanStdDev with a zero deviation for single samples.
func meanStd(x []float64) (mean, std float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
