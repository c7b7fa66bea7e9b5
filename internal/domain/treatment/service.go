package treatment

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid treatment data")

// BatchError reports a template batch that stopped part way. Templates
// before the failing one stay applied.
type BatchError struct {
	Applied  int
	FailedID string
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("procedure template %s failed after %d applied: %v", e.FailedID, e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

type Service struct {
	procedures ProcedureRepository
	templates  TemplateRepository
	tx         TxRunner
}

func NewService(p ProcedureRepository, t TemplateRepository, tx TxRunner) *Service {
	return &Service{procedures: p, templates: t, tx: tx}
}

// SaveProcedures replaces every procedure of planID with procs. The delete
// and the insert share one transaction, so a failure keeps the previous set.
func (s *Service) SaveProcedures(ctx context.Context, planID string, procs []Procedure) ([]Procedure, error) {
	if planID == "" {
		return nil, fmt.Errorf("%w: treatment_plan_id is required", ErrInvalid)
	}
	rows := make([]Procedure, len(procs))
	for i, p := range procs {
		p.TreatmentPlanID = planID
		rows[i] = p
	}

	saved := []Procedure{}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.procedures.DeleteByPlan(ctx, planID); err != nil {
			return fmt.Errorf("clear procedures: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		inserted, err := s.procedures.InsertMany(ctx, rows)
		if err != nil {
			return fmt.Errorf("insert procedures: %w", err)
		}
		saved = inserted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save procedures for plan %s: %w", planID, err)
	}
	return saved, nil
}

func (s *Service) GetProcedures(ctx context.Context, planID string) ([]Procedure, error) {
	if planID == "" {
		return nil, fmt.Errorf("%w: treatment_plan_id is required", ErrInvalid)
	}
	return s.procedures.ListByPlan(ctx, planID)
}

// UpdateProcedureTemplates upserts templates by id one at a time and stops
// at the first failure, returning a *BatchError. Upserts already applied are
// kept. Row checks are left to the backend.
func (s *Service) UpdateProcedureTemplates(ctx context.Context, templates []ProcedureTemplate) error {
	for i, t := range templates {
		if _, err := s.templates.Upsert(ctx, t); err != nil {
			return &BatchError{Applied: i, FailedID: t.ID, Err: err}
		}
	}
	return nil
}

// ResyncProcedureTemplates applies the whole batch in one transaction. It is
// the way to repair a catalog left half-updated by UpdateProcedureTemplates.
func (s *Service) ResyncProcedureTemplates(ctx context.Context, templates []ProcedureTemplate) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, t := range templates {
			if _, err := s.templates.Upsert(ctx, t); err != nil {
				return fmt.Errorf("upsert template %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Service) ListProcedureTemplates(ctx context.Context) ([]ProcedureTemplate, error) {
	return s.templates.List(ctx)
}

// ApplyTemplates appends copies of the given catalog entries to planID's
// procedures.
func (s *Service) ApplyTemplates(ctx context.Context, planID string, templateIDs []string) ([]Procedure, error) {
	current, err := s.GetProcedures(ctx, planID)
	if err != nil {
		return nil, err
	}
	procs := append([]Procedure(nil), current...)
	for _, id := range templateIDs {
		t, err := s.templates.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		procs = append(procs, FromTemplate(planID, *t))
	}
	return s.SaveProcedures(ctx, planID, procs)
}
