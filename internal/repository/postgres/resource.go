package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/pkg/errors"
)

// resourceTables maps protected resource kinds to the table holding their
// ownership columns (id, created_by, organization_id)
var resourceTables = map[string]string{
	model.ResourcePatient:    "patients",
	model.ResourceAssessment: "assessments",
	model.ResourceReport:     "reports",
	model.ResourceDrug:       "drugs",
}

type resourceStore struct {
	BaseRepository
	tables map[string]string
}

func NewResourceStore(db *sqlx.DB) repository.ResourceStore {
	return &resourceStore{BaseRepository: NewBaseRepository(db), tables: resourceTables}
}

func (r *resourceStore) GetDescriptor(ctx context.Context, resource, id string) (*model.AccessDescriptor, error) {
	table, ok := r.tables[resource]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %q", resource)
	}

	query := fmt.Sprintf(`
		SELECT r.id, r.created_by, r.organization_id,
			COALESCE(array_agg(s.subject_id) FILTER (WHERE s.subject_id IS NOT NULL), '{}') AS shared_with
		FROM %s r
		LEFT JOIN resource_shares s ON s.resource = $1 AND s.resource_id = r.id
		WHERE r.id = $2
		GROUP BY r.id, r.created_by, r.organization_id
	`, table)

	var desc model.AccessDescriptor
	var shared []string
	err := r.db.QueryRowxContext(ctx, query, resource, id).Scan(
		&desc.ResourceID,
		&desc.CreatedBy,
		&desc.OrganizationID,
		pq.Array(&shared),
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", resource, id, errors.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s descriptor: %w", resource, err)
	}

	desc.SharedWith = shared
	return &desc, nil
}
