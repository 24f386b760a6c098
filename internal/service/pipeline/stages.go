// internal/service/pipeline/stages.go

package pipeline

// Stage names of the canonical transformation graph.
const (
	StageLoadRaw         = "load_raw"
	StageBuildDimensions = "build_dimensions"
	StageBuildFacts      = "build_facts"
)

// Stages wires the canonical transformation graph: raw ingestion, then
// dimensions, then facts. Facts depend on dimensions because the fact
// builder joins against committed dimension keys.
func Stages(loader *Loader, dimensions *DimensionBuilder, facts *FactBuilder) []Stage {
	return []Stage{
		{
			Name: StageLoadRaw,
			Run:  loader.Load,
		},
		{
			Name:      StageBuildDimensions,
			DependsOn: []string{StageLoadRaw},
			Run:       dimensions.Build,
		},
		{
			Name:      StageBuildFacts,
			DependsOn: []string{StageLoadRaw, StageBuildDimensions},
			Run:       facts.Build,
		},
	}
}
