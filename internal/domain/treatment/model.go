package treatment

import (
	"time"

	"github.com/ehr/clinicdata/internal/platform/store"
)

const (
	PlansTable      = "treatment_plans"
	ProceduresTable = "treatment_procedures"
	TemplatesTable  = "procedure_templates"
)

// Procedure maps to treatment_procedures. A plan's procedures are replaced
// as a whole on every save.
type Procedure struct {
	ID              string    `db:"id" json:"id"`
	TreatmentPlanID string    `db:"treatment_plan_id" json:"treatment_plan_id"`
	Name            string    `db:"name" json:"name"`
	Code            string    `db:"code" json:"code"`
	Cost            float64   `db:"cost" json:"cost"`
	Description     string    `db:"description" json:"description"`
	Duration        int       `db:"duration" json:"duration"` // minutes
	Category        string    `db:"category" json:"category"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Procedure) record() store.Record {
	return store.Record{
		"treatment_plan_id": p.TreatmentPlanID,
		"name":              p.Name,
		"code":              p.Code,
		"cost":              p.Cost,
		"description":       p.Description,
		"duration":          p.Duration,
		"category":          p.Category,
	}
}

// ProcedureTemplate maps to procedure_templates, the reusable procedure
// catalog. Templates are upserted by id.
type ProcedureTemplate struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	Cost        float64   `db:"cost" json:"cost"`
	Description string    `db:"description" json:"description"`
	Duration    int       `db:"duration" json:"duration"`
	Category    string    `db:"category" json:"category"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (t *ProcedureTemplate) record() store.Record {
	return store.Record{
		"id":          t.ID,
		"name":        t.Name,
		"code":        t.Code,
		"cost":        t.Cost,
		"description": t.Description,
		"duration":    t.Duration,
		"category":    t.Category,
	}
}

// FromTemplate copies a catalog entry into a plan.
func FromTemplate(planID string, t ProcedureTemplate) Procedure {
	return Procedure{
		TreatmentPlanID: planID,
		Name:            t.Name,
		Code:            t.Code,
		Cost:            t.Cost,
		Description:     t.Description,
		Duration:        t.Duration,
		Category:        t.Category,
	}
}

// TotalCost sums the cost of procs.
func TotalCost(procs []Procedure) float64 {
	var total float64
	for _, p := range procs {
		total += p.Cost
	}
	return total
}

// TotalDuration sums the duration of procs in minutes.
func TotalDuration(procs []Procedure) int {
	var total int
	for _, p := range procs {
		total += p.Duration
	}
	return total
}
