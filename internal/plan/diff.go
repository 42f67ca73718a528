package plan

import "sort"

// ChangedStepIDs returns the ids of steps that are new in next or
// whose title, description, or status differ from the step with the
// same id in prev. Lookup is by id, not position, so reordering alone
// produces no changes. Steps present in prev but absent from next are
// not reported; the orchestrator handles explicit deletions itself.
func ChangedStepIDs(prev, next *Plan) []string {
	if next == nil {
		return nil
	}
	old := prev.StepIndex()

	var changed []string
	for _, s := range next.Steps {
		before, ok := old[s.ID]
		if !ok {
			changed = append(changed, s.ID)
			continue
		}
		if before.Title != s.Title || before.Description != s.Description || before.Status != s.Status {
			changed = append(changed, s.ID)
		}
	}
	sort.Strings(changed)
	return changed
}
