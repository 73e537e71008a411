// Package definition implements the Definition Loader: resolving a
// workflowId@version into a *workflow.WorkflowDefinition by replaying a
// base DAG plus its patch chain (§6, §3 versioned-workflow model).
package definition

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// ArtifactKind mirrors the artifact catalog's discriminator: a stored
// workflow version is either a full base DAG or a patch set layered on one.
type ArtifactKind string

const (
	KindDAGVersion ArtifactKind = "dag_version"
	KindPatchSet   ArtifactKind = "patch_set"
)

// PatchInfo is one entry in a patch chain, content loaded from CAS by the
// caller before Materialize is invoked.
type PatchInfo struct {
	Seq        int
	ArtifactID string
	Depth      int
	Content    []byte // JSON Patch (RFC 6902) operations
}

// WorkflowComponents holds everything needed to reconstruct one workflow
// version: either a base DAG verbatim, or a base plus its ordered patch
// chain (§3: "a workflow version materializes as base + patches").
type WorkflowComponents struct {
	WorkflowID  string
	Version     string
	Kind        ArtifactKind
	BaseContent []byte // JSON-encoded WorkflowDefinition
	PatchChain  []PatchInfo
}

func (w *WorkflowComponents) IsDAGVersion() bool { return w.Kind == KindDAGVersion }
func (w *WorkflowComponents) IsPatchSet() bool   { return w.Kind == KindPatchSet }

// Materializer applies a workflow version's patch chain (base + N patches,
// in seq order) to produce the final WorkflowDefinition the engine runs.
type Materializer struct {
	log *logger.Logger
}

// NewMaterializer constructs a Materializer.
func NewMaterializer(log *logger.Logger) *Materializer {
	return &Materializer{log: log}
}

// Materialize resolves components into a validated WorkflowDefinition.
func (m *Materializer) Materialize(ctx context.Context, components *WorkflowComponents) (*workflow.WorkflowDefinition, error) {
	m.log.Info("materializing workflow",
		"workflow_id", components.WorkflowID,
		"version", components.Version,
		"kind", components.Kind,
		"patch_count", len(components.PatchChain),
	)

	var finalJSON []byte
	var err error

	switch {
	case components.IsDAGVersion():
		finalJSON = components.BaseContent
	case components.IsPatchSet():
		finalJSON, err = m.materializePatchSet(components)
		if err != nil {
			return nil, err
		}
	default:
		return nil, workflow.NewDefinitionError(fmt.Sprintf("unsupported artifact kind %q", components.Kind))
	}

	def, err := m.unmarshalDefinition(finalJSON)
	if err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = components.WorkflowID
	}
	if def.Version == "" {
		def.Version = components.Version
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (m *Materializer) materializePatchSet(components *WorkflowComponents) ([]byte, error) {
	if len(components.PatchChain) == 0 {
		m.log.Warn("patch_set has no patches, returning base", "workflow_id", components.WorkflowID)
		return components.BaseContent, nil
	}

	current := components.BaseContent
	for i, patchInfo := range components.PatchChain {
		m.log.Debug("applying patch", "seq", patchInfo.Seq, "artifact_id", patchInfo.ArtifactID, "depth", patchInfo.Depth)

		result, err := m.applyPatch(current, patchInfo.Content)
		if err != nil {
			return nil, fmt.Errorf("apply patch %d (seq=%d, artifact=%s): %w", i+1, patchInfo.Seq, patchInfo.ArtifactID, err)
		}
		current = result
	}

	m.log.Info("materialization complete", "patches_applied", len(components.PatchChain))
	return current, nil
}

func (m *Materializer) applyPatch(workflowJSON, patchJSON []byte) ([]byte, error) {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	modified, err := patch.Apply(workflowJSON)
	if err != nil {
		return nil, fmt.Errorf("apply patch operations: %w", err)
	}
	return modified, nil
}

func (m *Materializer) unmarshalDefinition(raw []byte) (*workflow.WorkflowDefinition, error) {
	var def workflow.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("unmarshal workflow definition: %w", err)
	}
	return &def, nil
}

// ValidatePatch checks a patch applies cleanly before it is persisted.
func (m *Materializer) ValidatePatch(baseWorkflow, patchOperations []byte) error {
	if _, err := m.applyPatch(baseWorkflow, patchOperations); err != nil {
		return fmt.Errorf("patch validation failed: %w", err)
	}
	return nil
}
