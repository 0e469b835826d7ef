package orchestrator

import "context"

type priorOutcomesKey struct{}

func withPriorOutcomes(ctx context.Context, prior []TaskOutcome) context.Context {
	return context.WithValue(ctx, priorOutcomesKey{}, prior)
}

// PriorOutcomes returns the outcomes of every stage that completed before
// the calling task's stage, in execution order. Workers use it to read
// artifacts produced earlier in the plan.
func PriorOutcomes(ctx context.Context) []TaskOutcome {
	prior, _ := ctx.Value(priorOutcomesKey{}).([]TaskOutcome)
	return append([]TaskOutcome(nil), prior...)
}

// PriorArtifact returns the accepted artifact of the latest prior task for
// entity produced by agent. An empty agent matches any agent.
func PriorArtifact(ctx context.Context, entity, agent string) (Artifact, bool) {
	prior, _ := ctx.Value(priorOutcomesKey{}).([]TaskOutcome)
	for i := len(prior) - 1; i >= 0; i-- {
		o := prior[i]
		if o.Entity != entity || (agent != "" && o.AgentID != agent) {
			continue
		}
		if o.Status.Accepted() {
			return o.Artifact, true
		}
	}
	return nil, false
}
