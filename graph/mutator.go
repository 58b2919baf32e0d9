package graph

import (
	"time"
)

// StateMutator exposes pure update functions over State. Every function
// returns a new snapshot; the input is never modified.
//
// The zero value is ready to use.
type StateMutator struct{}

// SetStatus returns a new state with the given lifecycle status.
func (StateMutator) SetStatus(s *State, status Status) *State {
	next := s.Clone()
	next.Status = status
	return next
}

// SetCurrentNode returns a new state positioned at the given node.
func (StateMutator) SetCurrentNode(s *State, node string) *State {
	next := s.Clone()
	next.CurrentNode = node
	return next
}

// AppendCompletedNode appends a node to CompletedNodes. The append is
// idempotent for a node that is already the most recent entry, so a
// retried node does not inflate the audit trail.
func (StateMutator) AppendCompletedNode(s *State, node string) *State {
	if n := len(s.CompletedNodes); n > 0 && s.CompletedNodes[n-1] == node {
		return s.Clone()
	}
	next := s.Clone()
	next.CompletedNodes = append(next.CompletedNodes, node)
	return next
}

// SetRouting returns a new state with the routing decision replaced.
func (StateMutator) SetRouting(s *State, targets ...string) *State {
	next := s.Clone()
	next.RoutingDecision = append([]string(nil), targets...)
	return next
}

// MergeResponseData shallow-merges partial into ResponseData, merging
// nested maps one level deep.
func (StateMutator) MergeResponseData(s *State, partial map[string]any) *State {
	next := s.Clone()
	next.ResponseData = mergeInto(next.ResponseData, partial)
	return next
}

// MergeResponseMetadata shallow-merges partial into ResponseMetadata,
// merging nested maps one level deep.
func (StateMutator) MergeResponseMetadata(s *State, partial map[string]any) *State {
	next := s.Clone()
	next.ResponseMetadata = mergeInto(next.ResponseMetadata, partial)
	return next
}

// SetSharedArtifact replaces the artifact map owned by the given agent.
func (StateMutator) SetSharedArtifact(s *State, agent string, artifact map[string]any) *State {
	next := s.Clone()
	if next.SharedArtifacts == nil {
		next.SharedArtifacts = map[string]map[string]any{}
	}
	next.SharedArtifacts[agent] = cloneMap(artifact)
	return next
}

// AddError appends an error record. Errors only grow.
func (StateMutator) AddError(s *State, code, message, node string, context map[string]any) *State {
	next := s.Clone()
	next.Errors = append(next.Errors, ErrorRecord{
		Code:    code,
		Message: message,
		Node:    node,
		Context: cloneMap(context),
		At:      time.Now().UTC(),
	})
	return next
}

// AddMetric sets a processing metric value.
func (StateMutator) AddMetric(s *State, key string, value float64) *State {
	next := s.Clone()
	if next.ProcessingMetrics == nil {
		next.ProcessingMetrics = map[string]float64{}
	}
	next.ProcessingMetrics[key] = value
	return next
}

// IncrMetric increments a processing metric by delta and returns the new
// snapshot together with the resulting value.
func (m StateMutator) IncrMetric(s *State, key string, delta float64) (*State, float64) {
	next := s.Clone()
	if next.ProcessingMetrics == nil {
		next.ProcessingMetrics = map[string]float64{}
	}
	next.ProcessingMetrics[key] += delta
	return next, next.ProcessingMetrics[key]
}

// mergeInto merges src into a copy of dst. Scalars are replaced; nested
// maps are merged recursively one level at a time.
func mergeInto(dst, src map[string]any) map[string]any {
	out := cloneMap(dst)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range src {
		srcNested, srcIsMap := v.(map[string]any)
		dstNested, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = mergeInto(dstNested, srcNested)
			continue
		}
		if srcIsMap {
			out[k] = cloneMap(srcNested)
			continue
		}
		out[k] = v
	}
	return out
}

// MergeStates merges a node output into the authoritative base snapshot
// using deterministic rules: last-writer-wins for scalars, union-append
// for lists (CompletedNodes deduplicated), recursive merge for maps.
// Errors and history entries are unioned so no branch loses records.
func MergeStates(base, update *State) *State {
	if update == nil {
		return base.Clone()
	}
	out := base.Clone()

	// Scalars: last writer wins when the update set a non-zero value.
	if update.Status != "" {
		out.Status = update.Status
	}
	if update.CurrentNode != "" {
		out.CurrentNode = update.CurrentNode
	}
	if update.DetectedIntent != "" {
		out.DetectedIntent = update.DetectedIntent
	}
	if update.IntentConfidence != 0 {
		out.IntentConfidence = update.IntentConfidence
	}
	if update.ActiveAgent != "" {
		out.ActiveAgent = update.ActiveAgent
	}
	if update.ResponseMessage != "" {
		out.ResponseMessage = update.ResponseMessage
	}
	if update.ReasoningSummary != "" {
		out.ReasoningSummary = update.ReasoningSummary
	}
	if update.WorkflowMode != "" {
		out.WorkflowMode = update.WorkflowMode
	}
	if update.RoutingDecision != nil {
		out.RoutingDecision = append([]string(nil), update.RoutingDecision...)
	}

	// Ordered lists: union-append.
	for _, node := range update.CompletedNodes {
		if !out.HasCompleted(node) {
			out.CompletedNodes = append(out.CompletedNodes, node)
		}
	}
	out.Errors = unionErrors(out.Errors, update.Errors)
	out.ConversationHistory = unionTurns(out.ConversationHistory, update.ConversationHistory)
	if len(update.MemoryWindow) > 0 {
		out.MemoryWindow = append([]string(nil), update.MemoryWindow...)
	}
	if len(update.ReactTrace) > len(out.ReactTrace) {
		out.ReactTrace = append([]ReactStep(nil), update.ReactTrace...)
	}

	// Mappings: recursive merge.
	out.ExternalPayload = mergeInto(out.ExternalPayload, update.ExternalPayload)
	out.ResponseData = mergeInto(out.ResponseData, update.ResponseData)
	out.ResponseMetadata = mergeInto(out.ResponseMetadata, update.ResponseMetadata)
	out.Config = mergeInto(out.Config, update.Config)
	for agent, artifact := range update.SharedArtifacts {
		if out.SharedArtifacts == nil {
			out.SharedArtifacts = map[string]map[string]any{}
		}
		out.SharedArtifacts[agent] = mergeInto(out.SharedArtifacts[agent], artifact)
	}
	for k, v := range update.ProcessingMetrics {
		if out.ProcessingMetrics == nil {
			out.ProcessingMetrics = map[string]float64{}
		}
		out.ProcessingMetrics[k] = v
	}
	return out
}

func unionErrors(dst, src []ErrorRecord) []ErrorRecord {
	seen := make(map[string]bool, len(dst))
	for _, e := range dst {
		seen[e.Code+"|"+e.Message+"|"+e.Node] = true
	}
	for _, e := range src {
		key := e.Code + "|" + e.Message + "|" + e.Node
		if !seen[key] {
			dst = append(dst, e)
			seen[key] = true
		}
	}
	return dst
}

func unionTurns(dst, src []Turn) []Turn {
	if len(src) <= len(dst) {
		return dst
	}
	return append([]Turn(nil), src...)
}
