package stages

import "time"

// Builtins returns fresh instances of the ten built-in stages in pipeline
// order. Confidence thresholds track the compliance floors: 0.995 default,
// 0.998 from stage 5, 0.999 from stage 8, 1.0 at stage 10.
func Builtins() []Stage {
	return []Stage{
		&QueryAnalysis{meta: meta{
			number: 1, name: "query_analysis",
			confidence: 0.995, entropy: 0.4, maxTime: 10 * time.Second,
		}},
		&MemoryRecall{meta: meta{
			number: 2, name: "memory_recall",
			confidence: 0.995, entropy: 0.4, maxTime: 10 * time.Second,
			memory: true,
		}},
		&ResearchAgents{meta: meta{
			number: 3, name: "research_agents",
			confidence: 0.995, entropy: 0.5, maxTime: 30 * time.Second,
			agents: true, memory: true,
		}},
		&POVTriangulation{meta: meta{
			number: 4, name: "pov_triangulation",
			confidence: 0.995, entropy: 0.5, maxTime: 30 * time.Second,
			agents: true,
		}},
		&BranchForecast{meta: meta{
			number: 5, name: "branch_forecast",
			confidence: 0.998, entropy: 0.5, maxTime: 20 * time.Second,
			memory: true,
		}},
		&RecursiveRefinement{meta: meta{
			number: 6, name: "recursive_refinement",
			confidence: 0.998, entropy: 0.45, maxTime: 20 * time.Second,
			memory: true,
		}},
		&EthicalReview{meta: meta{
			number: 7, name: "ethical_review",
			confidence: 0.998, entropy: 0.4, maxTime: 15 * time.Second,
			safety: true,
		}},
		&EmergenceScan{meta: meta{
			number: 8, name: "emergence_scan",
			confidence: 0.999, entropy: 0.4, maxTime: 20 * time.Second,
			safety: true,
		}},
		&SystemVerification{meta: meta{
			number: 9, name: "system_verification",
			confidence: 0.999, entropy: 0.3, maxTime: 15 * time.Second,
			memory: true, safety: true,
		}},
		&FinalSynthesis{meta: meta{
			number: 10, name: "final_synthesis",
			confidence: 1.0, entropy: 0.2, maxTime: 30 * time.Second,
		}},
	}
}
