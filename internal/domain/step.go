package domain

import "strings"

// Step names a stage of the backend analysis pipeline. Steps are reported
// through Job.Progress and are advisory only.
type Step string

const (
	StepSnapshot   Step = "SNAPSHOT"
	StepDocIngest  Step = "DOC_INGEST"
	StepProfiling  Step = "PROFILING"
	StepExternal   Step = "EXTERNAL"
	StepContext    Step = "CONTEXT"
	StepSignal     Step = "SIGNAL"
	StepValidation Step = "VALIDATION"
	StepIndex      Step = "INDEX"
	StepInsight    Step = "INSIGHT"
)

var Pipeline = []Step{
	StepSnapshot,
	StepDocIngest,
	StepProfiling,
	StepExternal,
	StepContext,
	StepSignal,
	StepValidation,
	StepIndex,
	StepInsight,
}

var stepLabels = map[Step]string{
	StepSnapshot:   "Collecting snapshot",
	StepDocIngest:  "Ingesting documents",
	StepProfiling:  "Building corporate profile",
	StepExternal:   "Gathering external sources",
	StepContext:    "Assembling context",
	StepSignal:     "Detecting signals",
	StepValidation: "Validating signals",
	StepIndex:      "Indexing",
	StepInsight:    "Generating insight",
}

// Index returns the 1-based position of s in Pipeline, or 0 if unknown.
func (s Step) Index() int {
	for i, p := range Pipeline {
		if p == s {
			return i + 1
		}
	}
	return 0
}

func (s Step) Label() string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	if s == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}
