package projection

import (
	"context"
	"fmt"

	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Agents materializes the agent registry from the agent stream.
type Agents struct{}

// NewAgents creates the agents projection.
func NewAgents() *Agents { return &Agents{} }

func (p *Agents) Name() string      { return "agents" }
func (p *Agents) Streams() []string { return []string{types.StreamAgent} }

func (p *Agents) Truncate(ctx context.Context, tx storage.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM agents`)
	return err
}

func (p *Agents) Apply(ctx context.Context, tx storage.Tx, ev *types.Event) error {
	switch ev.Type {
	case types.EventAgentRegistered:
		var body types.AgentPayload
		if err := unmarshalPayload(ev, &body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (project_key, name, program, model, task_info, registered_at, last_active_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (project_key, name) DO UPDATE SET
				program = excluded.program,
				model = excluded.model,
				task_info = excluded.task_info,
				last_active_at = excluded.last_active_at
		`, ev.ProjectKey, body.Name, body.Program, body.Model, body.TaskInfo, ev.Timestamp, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to upsert agent %s: %w", body.Name, err)
		}
	case types.EventAgentActive:
		var body types.AgentPayload
		if err := unmarshalPayload(ev, &body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE agents SET last_active_at = ? WHERE project_key = ? AND name = ?
		`, ev.Timestamp, ev.ProjectKey, body.Name)
		if err != nil {
			return fmt.Errorf("failed to touch agent %s: %w", body.Name, err)
		}
	}
	return nil
}
