package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/authz-api/internal/model"
)

// All repository interfaces in one file
type (
	// ResourceStore supplies the access descriptor of a protected resource.
	// A missing resource yields an error wrapping errors.ErrRecordNotFound.
	ResourceStore interface {
		GetDescriptor(ctx context.Context, resource, id string) (*model.AccessDescriptor, error)
	}

	// UserDirectory is the subject directory used to enrich verified identities
	UserDirectory interface {
		// Ensure returns the directory record for id, provisioning it with
		// role user on first sight, and records the login time
		Ensure(ctx context.Context, id, email string) (*model.DirectoryUser, error)
		Get(ctx context.Context, id string) (*model.DirectoryUser, error)
		SetRole(ctx context.Context, id string, role model.Role) error
	}

	// AuditRepository durably stores audit entries
	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
		Cleanup(ctx context.Context, before time.Time) (int64, error)
	}
)
