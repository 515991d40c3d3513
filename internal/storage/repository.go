package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

const (
	insertRuleSQL = `INSERT INTO alert_rules (
        id, owner_id, subject_kind, subject_key, operator, threshold,
        active, cooldown_seconds, fired_count, created_at, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	getRuleSQL = `SELECT
        id, owner_id, subject_kind, subject_key, operator, threshold,
        active, cooldown_seconds, last_fired_at, fired_count, created_at, updated_at
    FROM alert_rules
    WHERE id = $1;`

	getRuleForUpdateSQL = `SELECT
        id, owner_id, subject_kind, subject_key, operator, threshold,
        active, cooldown_seconds, last_fired_at, fired_count, created_at, updated_at
    FROM alert_rules
    WHERE id = $1
    FOR UPDATE;`

	findActiveBySubjectSQL = `SELECT
        id, owner_id, subject_kind, subject_key, operator, threshold,
        active, cooldown_seconds, last_fired_at, fired_count, created_at, updated_at
    FROM alert_rules
    WHERE active AND subject_kind = $1 AND subject_key = $2;`

	listRulesByOwnerSQL = `SELECT
        id, owner_id, subject_kind, subject_key, operator, threshold,
        active, cooldown_seconds, last_fired_at, fired_count, created_at, updated_at
    FROM alert_rules
    WHERE owner_id = $1
    ORDER BY created_at;`

	updateRuleSQL = `UPDATE alert_rules
    SET subject_key = $2,
        operator = $3,
        threshold = $4,
        active = $5,
        cooldown_seconds = $6,
        updated_at = $7
    WHERE id = $1;`

	deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	recordFiringSQL = `UPDATE alert_rules
    SET last_fired_at = $2,
        fired_count = fired_count + 1,
        updated_at = $2
    WHERE id = $1;`

	upsertPreferenceSQL = `INSERT INTO notification_preferences (
        owner_id,
        sms_enabled, sms_destination,
        whatsapp_enabled, whatsapp_destination,
        email_enabled, email_destination,
        push_enabled, push_destination,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (owner_id) DO UPDATE
    SET sms_enabled          = EXCLUDED.sms_enabled,
        sms_destination      = EXCLUDED.sms_destination,
        whatsapp_enabled     = EXCLUDED.whatsapp_enabled,
        whatsapp_destination = EXCLUDED.whatsapp_destination,
        email_enabled        = EXCLUDED.email_enabled,
        email_destination    = EXCLUDED.email_destination,
        push_enabled         = EXCLUDED.push_enabled,
        push_destination     = EXCLUDED.push_destination,
        updated_at           = EXCLUDED.updated_at;`

	getPreferenceSQL = `SELECT
        owner_id,
        sms_enabled, sms_destination,
        whatsapp_enabled, whatsapp_destination,
        email_enabled, email_destination,
        push_enabled, push_destination
    FROM notification_preferences
    WHERE owner_id = $1;`

	insertFiringSQL = `INSERT INTO rule_firings (
        id, rule_id, owner_id, subject_kind, subject_key,
        value, threshold, operator, fired_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	listRecentFiringsSQL = `SELECT
        id, rule_id, owner_id, subject_kind, subject_key,
        value, threshold, operator, fired_at
    FROM rule_firings
    ORDER BY fired_at DESC
    LIMIT $1;`

	listFiringsBetweenSQL = `SELECT
        id, rule_id, owner_id, subject_kind, subject_key,
        value, threshold, operator, fired_at
    FROM rule_firings
    WHERE fired_at >= $1
      AND fired_at < $2
    ORDER BY fired_at;`

	insertAttemptSQL = `INSERT INTO delivery_attempts (
        event_id, channel, destination, status, attempt_number, error, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listAttemptsByEventSQL = `SELECT
        event_id, channel, destination, status, attempt_number, error, updated_at
    FROM delivery_attempts
    WHERE event_id = $1
    ORDER BY channel;`
)

// Create validates and inserts a rule with generated id and defaults.
func (s *Store) Create(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return rules.Rule{}, err
	}
	if err := rules.Validate(r); err != nil {
		return rules.Rule{}, err
	}

	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Active = true
	r.FiredCount = 0
	r.LastFiredAt = nil
	r.CreatedAt = now
	r.UpdatedAt = now

	_, execErr := pool.Exec(ctx, insertRuleSQL,
		r.ID,
		r.OwnerID,
		string(r.SubjectKind),
		r.SubjectKey,
		string(r.Condition.Operator),
		r.Condition.Threshold,
		r.Active,
		int64(r.Cooldown/time.Second),
		r.FiredCount,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if execErr != nil {
		return rules.Rule{}, fmt.Errorf("insert rule: %w", execErr)
	}
	return r, nil
}

// Get returns the rule by id.
func (s *Store) Get(ctx context.Context, id string) (rules.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return rules.Rule{}, err
	}
	return scanRuleRow(pool.QueryRow(ctx, getRuleSQL, id))
}

// FindActiveBySubject returns every active rule watching the subject.
func (s *Store) FindActiveBySubject(ctx context.Context, kind rules.SubjectKind, key string) ([]rules.Rule, error) {
	return s.queryRules(ctx, findActiveBySubjectSQL, string(kind), key)
}

// ListByOwner returns the owner's rules in creation order.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]rules.Rule, error) {
	return s.queryRules(ctx, listRulesByOwnerSQL, ownerID)
}

func (s *Store) queryRules(ctx context.Context, sql string, args ...any) ([]rules.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query rules: %w", queryErr)
	}
	defer rows.Close()

	out := make([]rules.Rule, 0)
	for rows.Next() {
		r, scanErr := scanRuleRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Update applies a partial patch inside a transaction so concurrent patches
// never interleave field-by-field.
func (s *Store) Update(ctx context.Context, id string, patch rules.RulePatch) (rules.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return rules.Rule{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := scanRuleRow(tx.QueryRow(ctx, getRuleForUpdateSQL, id))
	if err != nil {
		return rules.Rule{}, err
	}

	if patch.SubjectKey != nil {
		r.SubjectKey = *patch.SubjectKey
	}
	if patch.Operator != nil {
		r.Condition.Operator = *patch.Operator
	}
	if patch.Threshold != nil {
		r.Condition.Threshold = *patch.Threshold
	}
	if patch.Active != nil {
		r.Active = *patch.Active
	}
	if patch.Cooldown != nil {
		r.Cooldown = *patch.Cooldown
	}

	if err := rules.Validate(r); err != nil {
		return rules.Rule{}, err
	}
	r.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, updateRuleSQL,
		r.ID,
		r.SubjectKey,
		string(r.Condition.Operator),
		r.Condition.Threshold,
		r.Active,
		int64(r.Cooldown/time.Second),
		r.UpdatedAt,
	); err != nil {
		return rules.Rule{}, fmt.Errorf("update rule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return rules.Rule{}, fmt.Errorf("commit update: %w", err)
	}
	return r, nil
}

// Delete removes the rule; deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteRuleSQL, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// RecordFiring stamps the firing and bumps the counter in one statement.
func (s *Store) RecordFiring(ctx context.Context, id string, firedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, recordFiringSQL, id, firedAt.UTC())
	if execErr != nil {
		return fmt.Errorf("record firing: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// PutPreference upserts the owner's channel configuration.
func (s *Store) PutPreference(ctx context.Context, pref rules.NotificationPreference) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPreferenceSQL,
		pref.OwnerID,
		pref.SMS.Enabled, pref.SMS.Destination,
		pref.WhatsApp.Enabled, pref.WhatsApp.Destination,
		pref.Email.Enabled, pref.Email.Destination,
		pref.Push.Enabled, pref.Push.Destination,
		time.Now().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert preference: %w", execErr)
	}
	return nil
}

// GetPreference returns the owner's channel configuration.
func (s *Store) GetPreference(ctx context.Context, ownerID string) (rules.NotificationPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return rules.NotificationPreference{}, err
	}

	var pref rules.NotificationPreference
	scanErr := pool.QueryRow(ctx, getPreferenceSQL, ownerID).Scan(
		&pref.OwnerID,
		&pref.SMS.Enabled, &pref.SMS.Destination,
		&pref.WhatsApp.Enabled, &pref.WhatsApp.Destination,
		&pref.Email.Enabled, &pref.Email.Destination,
		&pref.Push.Enabled, &pref.Push.Destination,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return rules.NotificationPreference{}, store.ErrNotFound
		}
		return rules.NotificationPreference{}, fmt.Errorf("get preference: %w", scanErr)
	}
	return pref, nil
}

// InsertFiring appends to the firing audit log.
func (s *Store) InsertFiring(ctx context.Context, ev rules.FiredEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertFiringSQL,
		ev.ID,
		ev.RuleID,
		ev.OwnerID,
		string(ev.SubjectKind),
		ev.SubjectKey,
		ev.Value,
		ev.Threshold,
		string(ev.Operator),
		ev.FiredAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("insert firing: %w", execErr)
	}
	return nil
}

// ListRecentFirings returns up to limit firings, most recent first.
func (s *Store) ListRecentFirings(ctx context.Context, limit int) ([]rules.FiredEvent, error) {
	return s.queryFirings(ctx, listRecentFiringsSQL, limit)
}

// ListFiringsBetween returns firings within [from, to) in chronological order.
func (s *Store) ListFiringsBetween(ctx context.Context, from, to time.Time) ([]rules.FiredEvent, error) {
	return s.queryFirings(ctx, listFiringsBetweenSQL, from, to)
}

func (s *Store) queryFirings(ctx context.Context, sql string, args ...any) ([]rules.FiredEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query firings: %w", queryErr)
	}
	defer rows.Close()

	out := make([]rules.FiredEvent, 0)
	for rows.Next() {
		var ev rules.FiredEvent
		var kind, op string
		if err := rows.Scan(&ev.ID, &ev.RuleID, &ev.OwnerID, &kind, &ev.SubjectKey, &ev.Value, &ev.Threshold, &op, &ev.FiredAt); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		ev.SubjectKind = rules.SubjectKind(kind)
		ev.Operator = rules.Operator(op)
		out = append(out, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordAttempts stores final delivery attempts for an event.
func (s *Store) RecordAttempts(ctx context.Context, attempts []rules.DeliveryAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, at := range attempts {
		var errMsg any
		if at.Error != nil {
			errMsg = *at.Error
		}
		if _, execErr := pool.Exec(ctx, insertAttemptSQL,
			at.EventID,
			string(at.Channel),
			at.Destination,
			string(at.Status),
			at.AttemptNumber,
			errMsg,
			at.UpdatedAt.UTC(),
		); execErr != nil {
			return fmt.Errorf("insert delivery attempt: %w", execErr)
		}
	}
	return nil
}

// ListAttemptsByEvent returns delivery attempts recorded for the event.
func (s *Store) ListAttemptsByEvent(ctx context.Context, eventID string) ([]rules.DeliveryAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAttemptsByEventSQL, eventID)
	if queryErr != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]rules.DeliveryAttempt, 0)
	for rows.Next() {
		var at rules.DeliveryAttempt
		var channel, status string
		if err := rows.Scan(&at.EventID, &channel, &at.Destination, &status, &at.AttemptNumber, &at.Error, &at.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		at.Channel = rules.Channel(channel)
		at.Status = rules.DeliveryState(status)
		out = append(out, at)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRuleRow(row pgx.Row) (rules.Rule, error) {
	var r rules.Rule
	var kind, op string
	var cooldownSeconds int64
	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&kind,
		&r.SubjectKey,
		&op,
		&r.Condition.Threshold,
		&r.Active,
		&cooldownSeconds,
		&r.LastFiredAt,
		&r.FiredCount,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.Rule{}, store.ErrNotFound
		}
		return rules.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.SubjectKind = rules.SubjectKind(kind)
	r.Condition.Operator = rules.Operator(op)
	r.Cooldown = time.Duration(cooldownSeconds) * time.Second
	return r, nil
}

var (
	_ store.RuleStore       = (*Store)(nil)
	_ store.PreferenceStore = (*Store)(nil)
	_ store.FiringLog       = (*Store)(nil)
	_ store.DeliveryLog     = (*Store)(nil)
)
