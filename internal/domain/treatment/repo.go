package treatment

import (
	"context"
)

type ProcedureRepository interface {
	ListByPlan(ctx context.Context, planID string) ([]Procedure, error)
	DeleteByPlan(ctx context.Context, planID string) (int64, error)
	InsertMany(ctx context.Context, procs []Procedure) ([]Procedure, error)
}

type TemplateRepository interface {
	List(ctx context.Context) ([]ProcedureTemplate, error)
	GetByID(ctx context.Context, id string) (*ProcedureTemplate, error)
	Upsert(ctx context.Context, t ProcedureTemplate) (*ProcedureTemplate, error)
}

// TxRunner runs fn in a transaction that repository calls made with the
// given context join. *store.Store implements it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
