package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"scenecraft/internal/domain"
)

const proposalColumns = `id,scene_id,project_id,run_id,role,summary,rationale,runtime_impact_seconds,diff_json,status,tokens_used,cost_usd,model,created_at`

func scanProposal(row rowScanner) (domain.Proposal, error) {
	var (
		p    domain.Proposal
		diff sql.NullString
	)
	err := row.Scan(&p.ID, &p.SceneID, &p.ProjectID, &p.RunID, &p.Role, &p.Summary, &p.Rationale, &p.RuntimeImpactSeconds,
		&diff, &p.Status, &p.TokensUsed, &p.CostUSD, &p.Model, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if diff.Valid && diff.String != "" {
		p.Diff = json.RawMessage(diff.String)
	}
	return p, err
}

// InsertProposal appends a proposal after the scene's existing ones.
func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	var diff any
	if len(p.Diff) > 0 {
		diff = string(p.Diff)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(`+proposalColumns+`,seq)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM proposals WHERE scene_id=?))`,
		p.ID, p.SceneID, p.ProjectID, p.RunID, p.Role, p.Summary, p.Rationale, p.RuntimeImpactSeconds,
		diff, p.Status, p.TokensUsed, p.CostUSD, p.Model, p.CreatedAt, p.SceneID)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	return scanProposal(r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	return scanProposal(tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

type ProposalFilters struct {
	SceneID string
	RunID   string
	Status  domain.ProposalStatus
}

// ListProposals returns proposals in creation order.
func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE 1=1`
	var args []any
	if f.SceneID != "" {
		query += ` AND scene_id=?`
		args = append(args, f.SceneID)
	}
	if f.RunID != "" {
		query += ` AND run_id=?`
		args = append(args, f.RunID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY scene_id, seq`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SetProposalStatus flips a pending proposal to a terminal status. It
// returns false when the proposal is no longer pending.
func (r Repo) SetProposalStatus(ctx context.Context, tx *sql.Tx, id string, to domain.ProposalStatus) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=? WHERE id=? AND status=?`, to, id, domain.ProposalPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
