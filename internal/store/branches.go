package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/custody/internal/model"
)

// maxHierarchyDepth bounds hierarchy walks so a corrupted parent cycle
// cannot loop forever.
const maxHierarchyDepth = 64

const branchColumns = `id, name, type, active, parent_id, assigned_center_id, created_at`

// ancestryCTE yields (id, depth) for a branch and every ancestor above it.
const ancestryCTE = `
WITH RECURSIVE chain(id, parent_id, depth) AS (
    SELECT id, parent_id, 0 FROM branches WHERE id = ?
    UNION ALL
    SELECT b.id, b.parent_id, c.depth + 1
    FROM branches b JOIN chain c ON b.id = c.parent_id
    WHERE c.depth < ?
)`

// CreateBranch creates a new active branch.
func CreateBranch(ctx context.Context, q DBTX, name string, branchType model.BranchType, parentID, assignedCenterID *int64) (*model.Branch, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO branches (name, type, parent_id, assigned_center_id) VALUES (?, ?, ?, ?)`,
		name, branchType, parentID, assignedCenterID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating branch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting branch id: %w", err)
	}

	return GetBranch(ctx, q, id)
}

// GetBranch returns a branch by ID.
func GetBranch(ctx context.Context, q DBTX, id int64) (*model.Branch, error) {
	b, err := scanBranch(q.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting branch: %w", err)
	}
	return b, nil
}

// ListBranches returns all branches, optionally filtered by type.
func ListBranches(ctx context.Context, q DBTX, branchType model.BranchType) ([]model.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches`
	var args []any
	if branchType != "" {
		query += ` WHERE type = ?`
		args = append(args, branchType)
	}
	query += ` ORDER BY name`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning branch: %w", err)
		}
		branches = append(branches, *b)
	}
	return branches, rows.Err()
}

// SetBranchActive activates or deactivates a branch.
func SetBranchActive(ctx context.Context, q DBTX, id int64, active bool) error {
	_, err := q.ExecContext(ctx, `UPDATE branches SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("updating branch: %w", err)
	}
	return nil
}

// RootBranch returns the ID of the top-most ancestor of a branch, or 0 if
// the branch does not exist.
func RootBranch(ctx context.Context, q DBTX, id int64) (int64, error) {
	var root int64
	err := q.QueryRowContext(ctx,
		ancestryCTE+` SELECT id FROM chain ORDER BY depth DESC LIMIT 1`,
		id, maxHierarchyDepth,
	).Scan(&root)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding root branch: %w", err)
	}
	return root, nil
}

// SameTree reports whether two branches share a common ancestor, i.e. hang
// below the same root.
func SameTree(ctx context.Context, q DBTX, a, b int64) (bool, error) {
	rootA, err := RootBranch(ctx, q, a)
	if err != nil {
		return false, err
	}
	rootB, err := RootBranch(ctx, q, b)
	if err != nil {
		return false, err
	}
	return rootA != 0 && rootA == rootB, nil
}

// ServicedBranches returns the IDs of branches assigned to a maintenance center.
func ServicedBranches(ctx context.Context, q DBTX, centerID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM branches WHERE assigned_center_id = ? ORDER BY id`, centerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing serviced branches: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning serviced branch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBranch(row rowScanner) (*model.Branch, error) {
	b := &model.Branch{}
	if err := row.Scan(&b.ID, &b.Name, &b.Type, &b.Active, &b.ParentID, &b.AssignedCenterID, &b.CreatedAt); err != nil {
		return nil, err
	}
	return b, nil
}
