package orchestrator

// Phase names, in execution order.
const (
	PhasePreRecon              = "pre-recon"
	PhaseRecon                 = "recon"
	PhaseVulnerabilityAnalysis = "vulnerability-analysis"
	PhaseExploitation          = "exploitation"
	PhaseReporting             = "reporting"
)

// AgentReport is the agent name of the reporting phase.
const AgentReport = "report"

// Vulnerability classes assessed in parallel. Each class gets its own
// analysis lane and, later, its own exploitation lane.
var vulnerabilityClasses = []string{
	"injection",
	"xss",
	"auth",
	"ssrf",
	"authz",
}

// AnalysisLanes returns the agent names of the vulnerability-analysis lanes.
func AnalysisLanes() []string {
	lanes := make([]string, 0, len(vulnerabilityClasses))
	for _, class := range vulnerabilityClasses {
		lanes = append(lanes, class+"-analysis")
	}
	return lanes
}

// ExploitationLanes returns the agent names of the exploitation lanes.
func ExploitationLanes() []string {
	lanes := make([]string, 0, len(vulnerabilityClasses))
	for _, class := range vulnerabilityClasses {
		lanes = append(lanes, class+"-exploit")
	}
	return lanes
}

// AgentNames returns every agent a successful run executes, in phase order.
// Lane names within a parallel phase are in declaration order, which is not
// necessarily the order they complete in.
func AgentNames() []string {
	names := []string{PhasePreRecon, PhaseRecon}
	names = append(names, AnalysisLanes()...)
	names = append(names, ExploitationLanes()...)
	names = append(names, AgentReport)
	return names
}
