package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooh59599/zoohub/internal/domain/rule"
	"github.com/sooh59599/zoohub/internal/observability"
)

var ErrRuleNotFound = errors.New("rule not found")

type RulesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRulesRepo(pool *pgxpool.Pool, prom *observability.Prom) *RulesRepo {
	return &RulesRepo{pool: pool, prom: prom}
}

func (r *RulesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// EnabledWithActions is the single read the fan-out consumer (and the
// rules cache fronting it) performs per event: all enabled rules, plus
// every rule_action grouped by rule, ordered the way they must fire.
func (r *RulesRepo) EnabledWithActions(ctx context.Context) ([]rule.WithActions, error) {
	var rules []rule.Rule
	var err error

	err = r.observe("rules.enabled", func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT id, name, enabled, match_source, match_type, created_at, updated_at
			FROM rules WHERE enabled = true
		`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var rl rule.Rule
			var ms, mt *string
			if serr := rows.Scan(&rl.ID, &rl.Name, &rl.Enabled, &ms, &mt, &rl.CreatedAt, &rl.UpdatedAt); serr != nil {
				return serr
			}
			rl.Match = rule.Match{Source: ms, Type: mt}
			rules = append(rules, rl)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	actionsByRule := make(map[string][]rule.Action)
	err = r.observe("rules.actions_for_enabled", func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT id, rule_id, kind, config, order_no
			FROM rule_actions
			ORDER BY rule_id, order_no
		`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var a rule.Action
			if serr := rows.Scan(&a.ID, &a.RuleID, &a.Kind, &a.Config, &a.OrderNo); serr != nil {
				return serr
			}
			actionsByRule[a.RuleID] = append(actionsByRule[a.RuleID], a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]rule.WithActions, 0, len(rules))
	for _, rl := range rules {
		out = append(out, rule.WithActions{Rule: rl, Actions: actionsByRule[rl.ID]})
	}
	return out, nil
}

func (r *RulesRepo) Create(ctx context.Context, req rule.CreateRequest) (rule.WithActions, error) {
	id := uuid.NewString()
	var rl rule.Rule

	err := r.observe("rules.create", func() error {
		return r.pool.QueryRow(ctx, `
			INSERT INTO rules(id, name, enabled, match_source, match_type, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
			RETURNING id, name, enabled, match_source, match_type, created_at, updated_at
		`, id, req.Name, req.Enabled, req.Match.Source, req.Match.Type).Scan(
			&rl.ID, &rl.Name, &rl.Enabled, &rl.Match.Source, &rl.Match.Type, &rl.CreatedAt, &rl.UpdatedAt,
		)
	})
	if err != nil {
		return rule.WithActions{}, err
	}

	actions, err := r.insertActions(ctx, rl.ID, req.Actions)
	if err != nil {
		return rule.WithActions{}, err
	}
	return rule.WithActions{Rule: rl, Actions: actions}, nil
}

func (r *RulesRepo) insertActions(ctx context.Context, ruleID string, reqs []rule.ActionRequest) ([]rule.Action, error) {
	out := make([]rule.Action, 0, len(reqs))
	for _, a := range reqs {
		id := uuid.NewString()
		err := r.observe("rules.insert_action", func() error {
			_, e := r.pool.Exec(ctx, `
				INSERT INTO rule_actions(id, rule_id, kind, config, order_no)
				VALUES ($1,$2,$3,$4,$5)
			`, id, ruleID, a.Kind, []byte(a.Config), a.OrderNo)
			return e
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rule.Action{ID: id, RuleID: ruleID, Kind: a.Kind, Config: a.Config, OrderNo: a.OrderNo})
	}
	return out, nil
}

func (r *RulesRepo) List(ctx context.Context, enabled *bool) ([]rule.WithActions, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("rules.list", func() error {
		var qerr error
		if enabled == nil {
			rows, qerr = r.pool.Query(ctx, `
				SELECT id, name, enabled, match_source, match_type, created_at, updated_at
				FROM rules ORDER BY created_at DESC
			`)
		} else {
			rows, qerr = r.pool.Query(ctx, `
				SELECT id, name, enabled, match_source, match_type, created_at, updated_at
				FROM rules WHERE enabled = $1 ORDER BY created_at DESC
			`, *enabled)
		}
		return qerr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []rule.Rule
	for rows.Next() {
		var rl rule.Rule
		var ms, mt *string
		if serr := rows.Scan(&rl.ID, &rl.Name, &rl.Enabled, &ms, &mt, &rl.CreatedAt, &rl.UpdatedAt); serr != nil {
			return nil, serr
		}
		rl.Match = rule.Match{Source: ms, Type: mt}
		rules = append(rules, rl)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]rule.WithActions, 0, len(rules))
	for _, rl := range rules {
		actions, aerr := r.actionsForRule(ctx, rl.ID)
		if aerr != nil {
			return nil, aerr
		}
		out = append(out, rule.WithActions{Rule: rl, Actions: actions})
	}
	return out, nil
}

func (r *RulesRepo) actionsForRule(ctx context.Context, ruleID string) ([]rule.Action, error) {
	var out []rule.Action
	err := r.observe("rules.actions_for_rule", func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT id, rule_id, kind, config, order_no FROM rule_actions
			WHERE rule_id = $1 ORDER BY order_no
		`, ruleID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		for rows.Next() {
			var a rule.Action
			if serr := rows.Scan(&a.ID, &a.RuleID, &a.Kind, &a.Config, &a.OrderNo); serr != nil {
				return serr
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (r *RulesRepo) Update(ctx context.Context, id string, req rule.UpdateRequest) (rule.WithActions, error) {
	var rl rule.Rule
	var ms, mt *string

	err := r.observe("rules.update.fetch", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT name, enabled, match_source, match_type FROM rules WHERE id = $1
		`, id).Scan(&rl.Name, &rl.Enabled, &ms, &mt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rule.WithActions{}, ErrRuleNotFound
		}
		return rule.WithActions{}, err
	}

	if req.Name != nil {
		rl.Name = *req.Name
	}
	if req.Enabled != nil {
		rl.Enabled = *req.Enabled
	}
	if req.Match != nil {
		ms = req.Match.Source
		mt = req.Match.Type
	}

	err = r.observe("rules.update.apply", func() error {
		_, e := r.pool.Exec(ctx, `
			UPDATE rules SET name=$2, enabled=$3, match_source=$4, match_type=$5, updated_at=NOW()
			WHERE id=$1
		`, id, rl.Name, rl.Enabled, ms, mt)
		return e
	})
	if err != nil {
		return rule.WithActions{}, err
	}

	var actions []rule.Action
	if req.Actions != nil {
		err = r.observe("rules.update.replace_actions", func() error {
			_, e := r.pool.Exec(ctx, `DELETE FROM rule_actions WHERE rule_id = $1`, id)
			return e
		})
		if err != nil {
			return rule.WithActions{}, err
		}
		actions, err = r.insertActions(ctx, id, req.Actions)
		if err != nil {
			return rule.WithActions{}, err
		}
	} else {
		actions, err = r.actionsForRule(ctx, id)
		if err != nil {
			return rule.WithActions{}, err
		}
	}

	rl.ID = id
	rl.Match = rule.Match{Source: ms, Type: mt}
	return rule.WithActions{Rule: rl, Actions: actions}, nil
}

func (r *RulesRepo) Delete(ctx context.Context, id string) error {
	var tag int64
	err := r.observe("rules.delete", func() error {
		ct, e := r.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
		if e != nil {
			return e
		}
		tag = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if tag == 0 {
		return ErrRuleNotFound
	}
	return nil
}
