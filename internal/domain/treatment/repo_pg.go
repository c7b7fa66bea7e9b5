package treatment

import (
	"context"

	"github.com/ehr/clinicdata/internal/platform/store"
)

type procedureRepoPG struct {
	table *store.Table[Procedure]
}

func NewProcedureRepoPG(s *store.Store) ProcedureRepository {
	return &procedureRepoPG{table: store.NewTable[Procedure](s, ProceduresTable)}
}

func (r *procedureRepoPG) ListByPlan(ctx context.Context, planID string) ([]Procedure, error) {
	return r.table.Fetch(ctx, store.FetchOptions{
		Filters: map[string]any{"treatment_plan_id": planID},
		OrderBy: []string{"name", "created_at"},
	})
}

func (r *procedureRepoPG) DeleteByPlan(ctx context.Context, planID string) (int64, error) {
	return r.table.DeleteWhere(ctx, map[string]any{"treatment_plan_id": planID})
}

func (r *procedureRepoPG) InsertMany(ctx context.Context, procs []Procedure) ([]Procedure, error) {
	records := make([]store.Record, len(procs))
	for i := range procs {
		records[i] = procs[i].record()
	}
	return r.table.InsertMany(ctx, records)
}

type templateRepoPG struct {
	table *store.Table[ProcedureTemplate]
}

func NewTemplateRepoPG(s *store.Store) TemplateRepository {
	return &templateRepoPG{table: store.NewTable[ProcedureTemplate](s, TemplatesTable)}
}

func (r *templateRepoPG) List(ctx context.Context) ([]ProcedureTemplate, error) {
	return r.table.Fetch(ctx, store.FetchOptions{OrderBy: []string{"category", "name"}})
}

func (r *templateRepoPG) GetByID(ctx context.Context, id string) (*ProcedureTemplate, error) {
	t, err := r.table.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepoPG) Upsert(ctx context.Context, t ProcedureTemplate) (*ProcedureTemplate, error) {
	saved, err := r.table.Upsert(ctx, t.record(), store.IDColumn)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}
