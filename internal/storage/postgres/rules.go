package postgres

import (
	"context"
	"database/sql"

	"github.com/kaadipranav/lynex-sub000/internal/alert"
)

// RuleRepo reads the alert rule set for evaluator snapshots.
type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

// ListEnabled returns every enabled rule across all projects. Called once per
// refresh cycle, never on the per-event path.
func (r *RuleRepo) ListEnabled(ctx context.Context) ([]alert.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
		rule_id, project_id, condition, threshold,
		COALESCE(event_type, ''), COALESCE(field_path, ''), COALESCE(field_value, ''),
		severity, enabled, created_at, updated_at
		FROM alert_rules WHERE enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Rule
	for rows.Next() {
		var rl alert.Rule
		if err := rows.Scan(
			&rl.RuleID, &rl.ProjectID, &rl.Condition, &rl.Threshold,
			&rl.EventType, &rl.FieldPath, &rl.FieldValue,
			&rl.Severity, &rl.Enabled, &rl.CreatedAt, &rl.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, rows.Err()
}
