package plot

import (
	"bytes"
	"testing"

	"github.com/pthm-cable/gradient/experiment"
)

func testProfiles() []experiment.Profile {
	return []experiment.Profile{
		{Index: 0, Target: 0, PopulationMean: []float64{100, 0, 0, 0}, GrowthMean: []float64{0.6, 0.5, 0.3, 0}},
		{Index: 1, Target: 100, PopulationMean: []float64{40, 30, 10, 0}, GrowthMean: []float64{0.2, 0.3, 0.3, 0}},
		{Index: 2, Target: 200, PopulationMean: []float64{20, 25, 20, 5}, GrowthMean: []float64{0, 0.1, 0.2, 0}},
	}
}

func isPNG(b []byte) bool {
	return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n"))
}

func TestRenderProfiles(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderProfiles(&buf, testProfiles()); err != nil {
		t.Fatalf("RenderProfiles: %v", err)
	}
	if !isPNG(buf.Bytes()) {
		t.Error("output is not a PNG")
	}
}

func TestRenderGrowth(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderGrowth(&buf, testProfiles()); err != nil {
		t.Fatalf("RenderGrowth: %v", err)
	}
	if !isPNG(buf.Bytes()) {
		t.Error("output is not a PNG")
	}
}

func TestRenderFlatProfile(t *testing.T) {
	flat := []experiment.Profile{{PopulationMean: []float64{0, 0, 0}}}
	var buf bytes.Buffer
	if err := RenderProfiles(&buf, flat); err != nil {
		t.Fatalf("all-zero profile should still render: %v", err)
	}
}

func TestRenderErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderProfiles(&buf, nil); err == nil {
		t.Error("expected error for no profiles")
	}
	ragged := []experiment.Profile{
		{PopulationMean: []float64{1, 2}},
		{Index: 1, PopulationMean: []float64{1}},
	}
	if err := RenderProfiles(&buf, ragged); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestShade(t *testing.T) {
	if c := shade(0, 5); c.B != 255 || c.R != 0 {
		t.Errorf("first shade = %+v, want blue", c)
	}
	if c := shade(4, 5); c.R != 255 || c.B != 0 {
		t.Errorf("last shade = %+v, want red", c)
	}
	if c := shade(0, 1); c.B != 255 {
		t.Errorf("single shade = %+v, want blue", c)
	}
}
