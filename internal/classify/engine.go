package classify

import (
	"context"
	"errors"
	"time"

	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/logger"
)

// Engine runs rule evaluation and writes assignments.
type Engine struct {
	store  *store.Store
	logger *logger.Logger
}

// NewEngine creates a classification engine.
func NewEngine(st *store.Store, log *logger.Logger) *Engine {
	return &Engine{store: st, logger: log.Named("classify")}
}

type compiledRule struct {
	rule *store.ClassificationRule
	expr *Expression
}

// loadRules fetches and compiles the active rules of one dialect. Rules that
// fail to parse are deactivated and logged once; they never match.
func (e *Engine) loadRules(ctx context.Context, dialect common.Dialect) ([]compiledRule, error) {
	rules, err := e.store.ListActiveRules(ctx, dialect)
	if err != nil {
		return nil, err
	}

	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		expr, err := ParseExpression(r.RuleExpression)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				e.logger.Warnf("rule %d (%s) has unrecognized type, deactivating", r.ID, r.Name)
			} else {
				e.logger.Warnf("rule %d (%s) is unparseable, deactivating: %v", r.ID, r.Name, err)
			}
			if derr := e.store.DeactivateRule(ctx, r.ID); derr != nil {
				e.logger.Errorf("deactivate rule %d: %v", r.ID, derr)
			}
			continue
		}
		out = append(out, compiledRule{rule: r, expr: expr})
	}
	return out, nil
}

// AutoClassify evaluates every active rule against every target account and
// reconciles auto assignments. Accounts whose assignment set did not change
// keep their last_classified_at untouched.
func (e *Engine) AutoClassify(ctx context.Context, instanceID *int64) (*store.ClassificationBatch, error) {
	batch := &store.ClassificationBatch{InstanceID: instanceID}
	if err := e.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	if err := e.runBatch(ctx, batch, instanceID); err != nil {
		if cerr := e.store.CloseBatch(ctx, batch, "failed"); cerr != nil {
			e.logger.Errorf("close batch %d: %v", batch.ID, cerr)
		}
		return batch, err
	}

	if err := e.store.CloseBatch(ctx, batch, "completed"); err != nil {
		return batch, err
	}
	e.logger.Infof("batch %d: %d accounts, %d matched, %d matches",
		batch.ID, batch.TotalAccounts, batch.MatchedAccounts, batch.TotalMatches)
	return batch, nil
}

func (e *Engine) runBatch(ctx context.Context, batch *store.ClassificationBatch, instanceID *int64) error {
	instances, err := e.store.ListActiveInstances(ctx, "")
	if err != nil {
		return err
	}
	dialectOf := make(map[int64]common.Dialect, len(instances))
	for _, inst := range instances {
		dialectOf[inst.ID] = inst.Dialect
	}

	rulesByDialect := make(map[common.Dialect][]compiledRule)

	accounts, err := e.store.ListActiveAccounts(ctx, instanceID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, acct := range accounts {
		dialect, ok := dialectOf[acct.InstanceID]
		if !ok {
			continue
		}

		rules, loaded := rulesByDialect[dialect]
		if !loaded {
			rules, err = e.loadRules(ctx, dialect)
			if err != nil {
				return err
			}
			rulesByDialect[dialect] = rules
		}

		batch.TotalAccounts++

		var matchedIDs []int64
		matchedSet := make(map[int64]bool)
		for _, cr := range rules {
			if !cr.expr.Matches(acct.Privileges) {
				continue
			}
			if matchedSet[cr.rule.ClassificationID] {
				continue
			}
			matchedSet[cr.rule.ClassificationID] = true
			matchedIDs = append(matchedIDs, cr.rule.ClassificationID)
		}

		if len(matchedIDs) > 0 {
			batch.MatchedAccounts++
			batch.TotalMatches += len(matchedIDs)
		}

		changed := false
		for _, classificationID := range matchedIDs {
			didChange, err := e.store.UpsertAutoAssignment(ctx, acct.ID, classificationID, batch.ID)
			if err != nil {
				return err
			}
			if didChange {
				changed = true
			}
		}

		retired, err := e.store.DeactivateAutoAssignments(ctx, acct.ID, matchedIDs)
		if err != nil {
			return err
		}
		if retired > 0 {
			changed = true
		}

		if changed {
			if err := e.store.TouchAccountClassified(ctx, acct.ID, batch.ID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// ManualAssign writes a manual assignment for one account, bypassing rule
// evaluation.
func (e *Engine) ManualAssign(ctx context.Context, accountID, classificationID int64, assignedBy, note string) error {
	if err := e.store.ManualAssign(ctx, accountID, classificationID, assignedBy, note); err != nil {
		return err
	}
	e.logger.Infof("account %d manually assigned to classification %d by %s",
		accountID, classificationID, assignedBy)
	return nil
}
