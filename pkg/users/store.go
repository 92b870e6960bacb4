package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/docmeter/pkg/apperr"
)

const userColumns = `id, email, username, is_admin, credits, subscription_status, subscription_plan,
	payment_processor_user_id, date_paid, created_at`

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

// GetByID retrieves a user by id
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetByProcessorID retrieves a user by payment processor customer id
func (s *PostgresStore) GetByProcessorID(ctx context.Context, customerID string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE payment_processor_user_id = $1`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by processor id: %w", err)
	}
	return &u, nil
}

// SetProcessorID records the processor customer id on the user
func (s *PostgresStore) SetProcessorID(ctx context.Context, userID int64, customerID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET payment_processor_user_id = $1 WHERE id = $2`, customerID, userID)
	if err != nil {
		return apperr.FromDB(fmt.Errorf("failed to set processor id: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpdateByProcessorID applies update in a single statement. Credits are
// incremented in SQL so concurrent grants never lose an increment.
func (s *PostgresStore) UpdateByProcessorID(ctx context.Context, customerID string, update PaymentUpdate) (*User, error) {
	if update.Empty() {
		return s.GetByProcessorID(ctx, customerID)
	}

	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	add := func(expr string, arg interface{}) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if update.SubscriptionPlan != nil {
		add("subscription_plan = $%d", *update.SubscriptionPlan)
	}
	if update.SubscriptionStatus != nil {
		add("subscription_status = $%d", string(*update.SubscriptionStatus))
	}
	if update.DatePaid != nil {
		add("date_paid = $%d", *update.DatePaid)
	}
	if update.CreditsIncrement != 0 {
		add("credits = credits + $%d", update.CreditsIncrement)
	}
	args = append(args, customerID)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE payment_processor_user_id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args))

	var u User
	err := s.db.GetContext(ctx, &u, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.FromDB(fmt.Errorf("failed to update user payment details: %w", err))
	}
	return &u, nil
}

// CountUsers returns the total number of users
func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// CountPaidUsers returns the number of users with an active subscription
func (s *PostgresStore) CountPaidUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE subscription_status = $1`, string(StatusActive)); err != nil {
		return 0, fmt.Errorf("failed to count paid users: %w", err)
	}
	return n, nil
}

// List returns one page of users ordered by username
func (s *PostgresStore) List(ctx context.Context, skipPages int, filter ListFilter) (*Page, error) {
	if skipPages < 0 {
		skipPages = 0
	}

	where, args, err := buildListWhere(filter)
	if err != nil {
		return nil, err
	}

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM users` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	pageQuery := s.db.Rebind(`SELECT id, email, username, is_admin, subscription_status, payment_processor_user_id
		FROM users` + where + ` ORDER BY username ASC LIMIT ? OFFSET ?`)
	pageArgs := append(append([]interface{}{}, args...), PageSize, skipPages*PageSize)

	page := &Page{Users: []UserSummary{}}
	if err := s.db.SelectContext(ctx, &page.Users, pageQuery, pageArgs...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	page.TotalPages = (total + PageSize - 1) / PageSize
	return page, nil
}

// buildListWhere renders the filter with ? placeholders for Rebind
func buildListWhere(filter ListFilter) (string, []interface{}, error) {
	var conds []string
	var args []interface{}

	if filter.EmailContains != "" {
		conds = append(conds, "email ILIKE ?")
		args = append(args, "%"+escapeLike(filter.EmailContains)+"%")
	}
	if filter.IsAdmin != nil {
		conds = append(conds, "is_admin = ?")
		args = append(args, *filter.IsAdmin)
	}

	var statusConds []string
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		in, inArgs, err := sqlx.In("subscription_status IN (?)", statuses)
		if err != nil {
			return "", nil, fmt.Errorf("failed to build status filter: %w", err)
		}
		statusConds = append(statusConds, in)
		args = append(args, inArgs...)
	}
	if filter.IncludeNoStatus {
		statusConds = append(statusConds, "subscription_status IS NULL")
	}
	if len(statusConds) > 0 {
		conds = append(conds, "("+strings.Join(statusConds, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SetAdmin toggles the admin flag of a user
func (s *PostgresStore) SetAdmin(ctx context.Context, id int64, isAdmin bool) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`UPDATE users SET is_admin = $1 WHERE id = $2 RETURNING `+userColumns, isAdmin, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update admin flag: %w", err)
	}
	return &u, nil
}
