package dataaccess

import (
	"context"

	"github.com/ehr/clinicdata/internal/domain/settings"
	"github.com/ehr/clinicdata/internal/domain/treatment"
)

// SaveProcedures replaces the procedures of a treatment plan. On false the
// previous procedures are still in place.
func (c *Client) SaveProcedures(ctx context.Context, planID string, procs []Procedure) bool {
	if _, err := c.treatment.SaveProcedures(ctx, planID, procs); err != nil {
		c.degraded("save_procedures", treatment.ProceduresTable, err)
		return false
	}
	return true
}

func (c *Client) GetProcedures(ctx context.Context, planID string) []Procedure {
	procs, err := c.treatment.GetProcedures(ctx, planID)
	if err != nil {
		c.degraded("get_procedures", treatment.ProceduresTable, err)
		return []Procedure{}
	}
	if procs == nil {
		return []Procedure{}
	}
	return procs
}

// UpdateProcedureTemplates upserts templates in order and stops at the first
// failure. Templates upserted before it stay applied even though the call
// reports false.
func (c *Client) UpdateProcedureTemplates(ctx context.Context, templates []ProcedureTemplate) bool {
	if err := c.treatment.UpdateProcedureTemplates(ctx, templates); err != nil {
		c.degraded("update_procedure_templates", treatment.TemplatesTable, err)
		return false
	}
	return true
}

// Settings groups the user settings helpers.
type Settings struct {
	c *Client
}

func (c *Client) UserSettings() Settings {
	return Settings{c: c}
}

// Get returns the user's settings. A missing row and a failed read both
// yield the defaults.
func (s Settings) Get(ctx context.Context, userID string) *UserSettings {
	us, err := s.c.settings.Get(ctx, userID)
	if err != nil {
		s.c.degraded("get_settings", settings.Table, err)
		return settings.Defaults(userID)
	}
	return us
}

// Update upserts the user's settings and returns the stored row, or nil.
func (s Settings) Update(ctx context.Context, userID string, u SettingsUpdate) *UserSettings {
	us, err := s.c.settings.Update(ctx, userID, u)
	if err != nil {
		s.c.degraded("update_settings", settings.Table, err)
		return nil
	}
	return us
}
