package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"scenecraft/internal/domain"
)

const projectColumns = `id,title,logline,bible,budget_cap,current_spend,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Title, &p.Logline, &p.Bible, &p.BudgetCapUSD, &p.CurrentSpendUSD, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Logline, p.Bible, p.BudgetCapUSD, p.CurrentSpendUSD, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return getProject(ctx, tx, id)
}

func getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only project, failing when there are several.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) SetBudgetCap(ctx context.Context, tx *sql.Tx, projectID string, capUSD float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET budget_cap=? WHERE id=?`, capUSD, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddProjectSpend increments current_spend in place and returns the new total.
// The increment happens in the database so concurrent writers cannot lose an
// update to a stale read.
func (r Repo) AddProjectSpend(ctx context.Context, tx *sql.Tx, projectID string, amountUSD float64) (float64, error) {
	if amountUSD < 0 {
		return 0, fmt.Errorf("add spend %v: negative amount", amountUSD)
	}
	var total float64
	err := tx.QueryRowContext(ctx, `UPDATE projects SET current_spend = current_spend + ? WHERE id=? RETURNING current_spend`, amountUSD, projectID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return total, err
}

// RaiseProjectSpend sets current_spend to to only when that raises it.
func (r Repo) RaiseProjectSpend(ctx context.Context, tx *sql.Tx, projectID string, to float64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET current_spend=? WHERE id=? AND current_spend < ?`, to, projectID, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SumProposalCosts is the authoritative spend: the cost of every persisted
// proposal of the project, whatever its status.
func (r Repo) SumProposalCosts(ctx context.Context, projectID string) (float64, error) {
	return sumProposalCosts(ctx, r.DB, projectID)
}

func (r Repo) SumProposalCostsTx(ctx context.Context, tx *sql.Tx, projectID string) (float64, error) {
	return sumProposalCosts(ctx, tx, projectID)
}

func sumProposalCosts(ctx context.Context, q querier, projectID string) (float64, error) {
	var total float64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_usd),0) FROM proposals WHERE project_id=?`, projectID).Scan(&total)
	return total, err
}
