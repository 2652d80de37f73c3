package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each one selects violating rows, so an
// empty result set means the invariant held.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_flags_require_synthesis",
			SQL: `SELECT id, phase, a_accepted, b_accepted FROM conflicts
                  WHERE (a_accepted OR b_accepted)
                    AND (synthesis IS NULL OR phase NOT IN ('review','discussion','commitments','resolved'))`,
		},
		{
			Name: "O2_resolved_shape",
			SQL: `SELECT id, phase, resolved_at FROM conflicts
                  WHERE (phase = 'resolved') <> (resolved_at IS NOT NULL)`,
		},
		{
			Name: "O3_resolved_needs_both_accepts",
			SQL: `SELECT id FROM conflicts
                  WHERE phase = 'resolved' AND NOT (a_accepted AND b_accepted)`,
		},
		{
			Name: "O4_timeline_dense",
			SQL: `SELECT conflict_id, COUNT(*), MAX(seq), MIN(seq) FROM timeline_events
                  GROUP BY conflict_id
                  HAVING COUNT(*) <> MAX(seq) OR MIN(seq) <> 1`,
		},
		{
			Name: "O5_submission_shape",
			SQL: `SELECT conflict_id, member_id FROM perspectives
                  WHERE submitted AND (body IS NULL OR submitted_at IS NULL)`,
		},
		{
			Name: "O6_synthesis_needs_both_submissions",
			SQL: `SELECT c.id, c.phase FROM conflicts c
                  WHERE c.phase IN ('submitted','synthesis','review','discussion','commitments','resolved')
                    AND (SELECT COUNT(*) FROM perspectives p WHERE p.conflict_id = c.id AND p.submitted) < 2`,
		},
		{
			Name: "O7_late_phase_needs_synthesis",
			SQL: `SELECT id, phase FROM conflicts
                  WHERE phase IN ('synthesis','review','discussion','commitments','resolved')
                    AND synthesis IS NULL`,
		},
		{
			Name: "O8_fulfilled_implies_accepted",
			SQL:  `SELECT id FROM requests WHERE fulfilled AND NOT accepted`,
		},
		{
			Name: "O9_requests_reach_commitments",
			SQL: `SELECT r.id, c.phase FROM requests r
                  JOIN conflicts c ON c.id = r.conflict_id
                  WHERE c.phase NOT IN ('commitments','resolved')`,
		},
		{
			Name: "O10_messages_after_discussion",
			SQL: `SELECT m.id, c.phase FROM messages m
                  JOIN conflicts c ON c.id = m.conflict_id
                  WHERE c.phase NOT IN ('discussion','commitments','resolved')`,
		},
		{
			Name: "O11_phase_in_range",
			SQL: `SELECT id, phase FROM conflicts
                  WHERE phase NOT IN ('created','perspectives','submitted','synthesis','review','discussion','commitments','resolved')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if every invariant held.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
