package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/flowrunner/internal/cache"
	"github.com/lyzr/flowrunner/internal/db"
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// Loader implements workflow.DefinitionLoader against the Postgres artifact
// catalog (§6): each workflow version is an artifact row (a base DAG or a
// patch set chained off one), resolved and materialized on demand. Results
// are cached by workflowID+version to avoid re-walking the patch chain on
// every instance start.
type Loader struct {
	db    *db.DB
	cache cache.Cache
	mat   *Materializer
	log   *logger.Logger
	ttl   time.Duration
}

// NewLoader constructs a Loader. cache may be nil to disable caching.
func NewLoader(database *db.DB, c cache.Cache, log *logger.Logger, ttl time.Duration) *Loader {
	return &Loader{
		db:    database,
		cache: c,
		mat:   NewMaterializer(log),
		log:   log,
		ttl:   ttl,
	}
}

var _ workflow.DefinitionLoader = (*Loader)(nil)

// LoadWorkflow resolves workflowID@version into a materialized, validated
// WorkflowDefinition. version is matched literally against a tag name, so
// "latest" finds only a tag named "latest"; no version ordering is computed.
func (l *Loader) LoadWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error) {
	cacheKey := fmt.Sprintf("workflowdef:%s:%s", workflowID, version)

	if l.cache != nil {
		if raw, found, err := l.cache.Get(ctx, cacheKey); err == nil && found {
			var def workflow.WorkflowDefinition
			if err := json.Unmarshal(raw, &def); err == nil {
				return &def, nil
			}
			l.log.Warn("discarding corrupt cached definition", "key", cacheKey)
		}
	}

	components, err := l.fetchComponents(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}

	def, err := l.mat.Materialize(ctx, components)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if raw, err := json.Marshal(def); err == nil {
			if err := l.cache.Set(ctx, cacheKey, raw, l.ttl); err != nil {
				l.log.Warn("failed to cache materialized definition", "error", err)
			}
		}
	}

	return def, nil
}

// fetchComponents resolves a tag (or explicit version string) to an
// artifact row, then walks the patch_chain_member table (if the artifact is
// a patch set) to assemble the ordered patch list. Patch/base content is
// stored content-addressed in the blob table, referenced by cas_id.
func (l *Loader) fetchComponents(ctx context.Context, workflowID, version string) (*WorkflowComponents, error) {
	var artifactID, kind, baseCASID string
	var baseVersion *string

	query := `
		SELECT a.artifact_id, a.kind, a.base_version, a.cas_id
		FROM artifact a
		JOIN tag t ON t.target_id = a.artifact_id
		WHERE t.workflow_id = $1 AND t.name = $2
	`
	row := l.db.QueryRow(ctx, query, workflowID, version)
	if err := row.Scan(&artifactID, &kind, &baseVersion, &baseCASID); err != nil {
		return nil, workflow.NewError(workflow.ErrNotFound, fmt.Sprintf("workflow %s@%s not found: %v", workflowID, version, err))
	}

	components := &WorkflowComponents{
		WorkflowID: workflowID,
		Version:    version,
		Kind:       ArtifactKind(kind),
	}

	baseCAS := baseCASID
	if components.IsPatchSet() {
		if baseVersion == nil {
			return nil, workflow.NewDefinitionError(fmt.Sprintf("patch_set artifact %s has no base_version", artifactID))
		}
		if err := l.db.QueryRow(ctx, `SELECT cas_id FROM artifact WHERE artifact_id = $1`, *baseVersion).Scan(&baseCAS); err != nil {
			return nil, fmt.Errorf("load base artifact for patch set: %w", err)
		}

		chain, err := l.fetchPatchChain(ctx, artifactID)
		if err != nil {
			return nil, err
		}
		components.PatchChain = chain
	}

	baseContent, err := l.fetchBlob(ctx, baseCAS)
	if err != nil {
		return nil, fmt.Errorf("load base content: %w", err)
	}
	components.BaseContent = baseContent

	return components, nil
}

func (l *Loader) fetchPatchChain(ctx context.Context, headArtifactID string) ([]PatchInfo, error) {
	query := `
		SELECT pcm.seq, a.artifact_id, a.depth, a.cas_id
		FROM patch_chain_member pcm
		JOIN artifact a ON a.artifact_id = pcm.member_id
		WHERE pcm.head_id = $1
		ORDER BY pcm.seq ASC
	`
	rows, err := l.db.Query(ctx, query, headArtifactID)
	if err != nil {
		return nil, fmt.Errorf("query patch chain: %w", err)
	}
	defer rows.Close()

	var chain []PatchInfo
	for rows.Next() {
		var p PatchInfo
		var casID string
		var depth int
		if err := rows.Scan(&p.Seq, &p.ArtifactID, &depth, &casID); err != nil {
			return nil, fmt.Errorf("scan patch chain member: %w", err)
		}
		p.Depth = depth
		content, err := l.fetchBlob(ctx, casID)
		if err != nil {
			return nil, fmt.Errorf("load patch content for %s: %w", p.ArtifactID, err)
		}
		p.Content = content
		chain = append(chain, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patch chain: %w", err)
	}
	return chain, nil
}

func (l *Loader) fetchBlob(ctx context.Context, casID string) ([]byte, error) {
	var content []byte
	err := l.db.QueryRow(ctx, `SELECT content FROM cas_blob WHERE cas_id = $1`, casID).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", casID, err)
	}
	return content, nil
}
