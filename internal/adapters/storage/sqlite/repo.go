// Package sqlite persists items, the board hierarchy, and activity logs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName matches the driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// Repository implements the item, hierarchy, and activity stores on sqlite.
type Repository struct {
	db *sql.DB
}

// Open opens or creates the database file and runs migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the schema. Every statement is idempotent, so it runs on
// each open.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS boards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			board_id TEXT NOT NULL,
			name TEXT NOT NULL,
			payment_types_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS stages (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			can_edit_member_ids_json TEXT NOT NULL DEFAULT '[]',
			can_move_member_ids_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			initial_stage_id TEXT NOT NULL,
			order_value REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			assigned_user_ids_json TEXT NOT NULL DEFAULT '[]',
			watched_user_ids_json TEXT NOT NULL DEFAULT '[]',
			label_ids_json TEXT NOT NULL DEFAULT '[]',
			tag_ids_json TEXT NOT NULL DEFAULT '[]',
			branch_ids_json TEXT NOT NULL DEFAULT '[]',
			department_ids_json TEXT NOT NULL DEFAULT '[]',
			custom_fields_json TEXT NOT NULL DEFAULT '[]',
			products_json TEXT NOT NULL DEFAULT '[]',
			payments_json TEXT NOT NULL DEFAULT '{}',
			source_conversation_ids_json TEXT NOT NULL DEFAULT '[]',
			extra_json TEXT NOT NULL DEFAULT '{}',
			stage_changed_at TEXT,
			created_by TEXT NOT NULL DEFAULT '',
			modified_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			modified_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_stage_order
			ON items(kind, stage_id, status, order_value);`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_type TEXT NOT NULL,
			content_id TEXT NOT NULL,
			action TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			content_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_content
			ON activity_logs(content_type, content_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

const itemColumns = `
	id, kind, name, stage_id, initial_stage_id, order_value, status,
	assigned_user_ids_json, watched_user_ids_json, label_ids_json, tag_ids_json,
	branch_ids_json, department_ids_json, custom_fields_json, products_json,
	payments_json, source_conversation_ids_json, extra_json, stage_changed_at,
	created_by, modified_by, created_at, modified_at
`

// Insert stores one new item row.
func (r *Repository) Insert(ctx context.Context, item domain.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return domain.ErrInvalidID
	}
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items(`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Get returns one item by kind and id.
func (r *Repository) Get(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE kind = ? AND id = ?
	`, string(kind), id)
	return scanItem(row)
}

// Apply reads the row, applies the patch, and writes it back in one
// transaction, returning the updated item.
func (r *Repository) Apply(ctx context.Context, kind domain.Kind, id string, patch app.ItemPatch) (domain.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE kind = ? AND id = ?
	`, string(kind), id)
	item, err := scanItem(row)
	if err != nil {
		return domain.Item{}, err
	}

	applyPatch(&item, patch)

	args, err := itemArgs(item)
	if err != nil {
		return domain.Item{}, err
	}
	// id and kind lead the column list; shift them to the WHERE clause.
	res, err := tx.ExecContext(ctx, `
		UPDATE items SET
			name = ?, stage_id = ?, initial_stage_id = ?, order_value = ?, status = ?,
			assigned_user_ids_json = ?, watched_user_ids_json = ?, label_ids_json = ?, tag_ids_json = ?,
			branch_ids_json = ?, department_ids_json = ?, custom_fields_json = ?, products_json = ?,
			payments_json = ?, source_conversation_ids_json = ?, extra_json = ?, stage_changed_at = ?,
			created_by = ?, modified_by = ?, created_at = ?, modified_at = ?
		WHERE kind = ? AND id = ?
	`, append(args[2:], string(kind), id)...)
	if err != nil {
		return domain.Item{}, err
	}
	if err = translateNoRows(res); err != nil {
		return domain.Item{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// Delete removes one item row.
func (r *Repository) Delete(ctx context.Context, kind domain.Kind, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM items WHERE kind = ? AND id = ?
	`, string(kind), id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// ListStageItems lists a stage's items ordered by position.
func (r *Repository) ListStageItems(ctx context.Context, kind domain.Kind, stageID string, includeArchived bool) ([]domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE kind = ? AND stage_id = ?
	`
	if !includeArchived {
		query += ` AND status != 'archived'`
	}
	query += ` ORDER BY order_value ASC`

	rows, err := r.db.QueryContext(ctx, query, string(kind), stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MinOrder returns the smallest active order value in a stage.
func (r *Repository) MinOrder(ctx context.Context, kind domain.Kind, stageID string) (float64, bool, error) {
	var min sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(order_value)
		FROM items
		WHERE kind = ? AND stage_id = ? AND status != 'archived'
	`, string(kind), stageID).Scan(&min)
	if err != nil {
		return 0, false, err
	}
	return min.Float64, min.Valid, nil
}

// NextOrder returns the smallest active order strictly greater than after.
func (r *Repository) NextOrder(ctx context.Context, kind domain.Kind, stageID string, after float64) (float64, bool, error) {
	var next sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(order_value)
		FROM items
		WHERE kind = ? AND stage_id = ? AND status != 'archived' AND order_value > ?
	`, string(kind), stageID, after).Scan(&next)
	if err != nil {
		return 0, false, err
	}
	return next.Float64, next.Valid, nil
}

// NearestActiveAbove returns the active item sorting directly before order.
func (r *Repository) NearestActiveAbove(ctx context.Context, kind domain.Kind, stageID string, order float64) (domain.Item, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE kind = ? AND stage_id = ? AND status != 'archived' AND order_value < ?
		ORDER BY order_value DESC
		LIMIT 1
	`, string(kind), stageID, order)
	item, err := scanItem(row)
	if errors.Is(err, app.ErrNotFound) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, err
	}
	return item, true, nil
}

// ArchiveStageItems archives every non-archived item in the stage at once.
func (r *Repository) ArchiveStageItems(ctx context.Context, kind domain.Kind, stageID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET status = 'archived'
		WHERE kind = ? AND stage_id = ? AND status != 'archived'
	`, string(kind), stageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertBoard seeds or replaces one board row.
func (r *Repository) UpsertBoard(ctx context.Context, b domain.Board) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO boards(id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, b.ID, b.Name)
	return err
}

// UpsertPipeline seeds or replaces one pipeline row.
func (r *Repository) UpsertPipeline(ctx context.Context, p domain.Pipeline) error {
	paymentTypes, err := json.Marshal(p.PaymentTypes)
	if err != nil {
		return fmt.Errorf("encode payment types: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipelines(id, board_id, name, payment_types_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			board_id = excluded.board_id,
			name = excluded.name,
			payment_types_json = excluded.payment_types_json
	`, p.ID, p.BoardID, p.Name, string(paymentTypes))
	return err
}

// UpsertStage seeds or replaces one stage row.
func (r *Repository) UpsertStage(ctx context.Context, s domain.Stage) error {
	canEdit, err := json.Marshal(idsOrEmpty(s.CanEditMemberIDs))
	if err != nil {
		return fmt.Errorf("encode edit members: %w", err)
	}
	canMove, err := json.Marshal(idsOrEmpty(s.CanMoveMemberIDs))
	if err != nil {
		return fmt.Errorf("encode move members: %w", err)
	}
	status := s.Status
	if status == "" {
		status = domain.StatusActive
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO stages(id, pipeline_id, name, status, can_edit_member_ids_json, can_move_member_ids_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline_id = excluded.pipeline_id,
			name = excluded.name,
			status = excluded.status,
			can_edit_member_ids_json = excluded.can_edit_member_ids_json,
			can_move_member_ids_json = excluded.can_move_member_ids_json
	`, s.ID, s.PipelineID, s.Name, string(status), string(canEdit), string(canMove))
	return err
}

// GetStage returns one stage by id.
func (r *Repository) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var (
		stage   domain.Stage
		status  string
		canEdit string
		canMove string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, name, status, can_edit_member_ids_json, can_move_member_ids_json
		FROM stages WHERE id = ?
	`, id).Scan(&stage.ID, &stage.PipelineID, &stage.Name, &status, &canEdit, &canMove)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stage{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Stage{}, err
	}
	stage.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(canEdit), &stage.CanEditMemberIDs); err != nil {
		return domain.Stage{}, fmt.Errorf("decode edit members: %w", err)
	}
	if err := json.Unmarshal([]byte(canMove), &stage.CanMoveMemberIDs); err != nil {
		return domain.Stage{}, fmt.Errorf("decode move members: %w", err)
	}
	return stage, nil
}

// GetPipeline returns one pipeline by id.
func (r *Repository) GetPipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	var (
		pipeline     domain.Pipeline
		paymentTypes string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, board_id, name, payment_types_json
		FROM pipelines WHERE id = ?
	`, id).Scan(&pipeline.ID, &pipeline.BoardID, &pipeline.Name, &paymentTypes)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pipeline{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Pipeline{}, err
	}
	if err := json.Unmarshal([]byte(paymentTypes), &pipeline.PaymentTypes); err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode payment types: %w", err)
	}
	return pipeline, nil
}

// GetBoard returns one board by id.
func (r *Repository) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	var board domain.Board
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name FROM boards WHERE id = ?
	`, id).Scan(&board.ID, &board.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Board{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// Put appends one activity log entry.
func (r *Repository) Put(ctx context.Context, entry domain.ActivityLog) error {
	content, err := json.Marshal(entry.Content)
	if err != nil {
		return fmt.Errorf("encode activity content: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_logs(content_type, content_id, action, created_by, content_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(entry.ContentType), entry.ContentID, string(entry.Action), entry.CreatedBy, string(content), ts(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// ListByContent lists recent audit entries for one item, newest first.
func (r *Repository) ListByContent(ctx context.Context, kind domain.Kind, contentID string, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content_type, content_id, action, created_by, content_json, created_at
		FROM activity_logs
		WHERE content_type = ? AND content_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(kind), contentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ActivityLog{}
	for rows.Next() {
		var (
			entry       domain.ActivityLog
			contentType string
			action      string
			content     string
			createdAt   string
		)
		if err := rows.Scan(&entry.ID, &contentType, &entry.ContentID, &action, &entry.CreatedBy, &content, &createdAt); err != nil {
			return nil, err
		}
		entry.ContentType = domain.Kind(contentType)
		entry.Action = domain.ActivityAction(action)
		if err := json.Unmarshal([]byte(content), &entry.Content); err != nil {
			return nil, fmt.Errorf("decode activity content: %w", err)
		}
		entry.CreatedAt = parseTS(createdAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// applyPatch folds non-nil patch fields into the item.
func applyPatch(item *domain.Item, patch app.ItemPatch) {
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.StageID != nil {
		item.StageID = *patch.StageID
	}
	if patch.Order != nil {
		item.Order = *patch.Order
	}
	if patch.Status != nil {
		item.Status = *patch.Status
	}
	if patch.AssignedUserIDs != nil {
		item.AssignedUserIDs = *patch.AssignedUserIDs
	}
	if patch.WatchedUserIDs != nil {
		item.WatchedUserIDs = *patch.WatchedUserIDs
	}
	if patch.LabelIDs != nil {
		item.LabelIDs = *patch.LabelIDs
	}
	if patch.TagIDs != nil {
		item.TagIDs = *patch.TagIDs
	}
	if patch.CustomFieldsData != nil {
		item.CustomFieldsData = *patch.CustomFieldsData
	}
	if patch.ProductsData != nil {
		item.ProductsData = *patch.ProductsData
	}
	if patch.PaymentsData != nil {
		item.PaymentsData = *patch.PaymentsData
	}
	if patch.StageChangedDate != nil {
		item.StageChangedDate = patch.StageChangedDate
	}
	if patch.ModifiedBy != "" {
		item.ModifiedBy = patch.ModifiedBy
	}
	if !patch.ModifiedAt.IsZero() {
		item.ModifiedAt = patch.ModifiedAt
	}
}

// itemArgs flattens an item into the column order of itemColumns.
func itemArgs(item domain.Item) ([]any, error) {
	encode := func(v any, what string) (string, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", what, err)
		}
		return string(raw), nil
	}
	assigned, err := encode(idsOrEmpty(item.AssignedUserIDs), "assigned users")
	if err != nil {
		return nil, err
	}
	watched, err := encode(idsOrEmpty(item.WatchedUserIDs), "watched users")
	if err != nil {
		return nil, err
	}
	labels, err := encode(idsOrEmpty(item.LabelIDs), "labels")
	if err != nil {
		return nil, err
	}
	tags, err := encode(idsOrEmpty(item.TagIDs), "tags")
	if err != nil {
		return nil, err
	}
	branches, err := encode(idsOrEmpty(item.BranchIDs), "branches")
	if err != nil {
		return nil, err
	}
	departments, err := encode(idsOrEmpty(item.DepartmentIDs), "departments")
	if err != nil {
		return nil, err
	}
	customFields, err := encode(fieldsOrEmpty(item.CustomFieldsData), "custom fields")
	if err != nil {
		return nil, err
	}
	products, err := encode(productsOrEmpty(item.ProductsData), "products")
	if err != nil {
		return nil, err
	}
	payments, err := encode(paymentsOrEmpty(item.PaymentsData), "payments")
	if err != nil {
		return nil, err
	}
	conversations, err := encode(idsOrEmpty(item.SourceConversationIDs), "conversations")
	if err != nil {
		return nil, err
	}
	extra, err := encode(extraOrEmpty(item.ExtraData), "extra data")
	if err != nil {
		return nil, err
	}
	return []any{
		item.ID, string(item.Kind), item.Name, item.StageID, item.InitialStageID,
		item.Order, string(item.Status),
		assigned, watched, labels, tags, branches, departments,
		customFields, products, payments, conversations, extra,
		nullableTS(item.StageChangedDate),
		item.CreatedBy, item.ModifiedBy, ts(item.CreatedAt), ts(item.ModifiedAt),
	}, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem decodes one item row.
func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item          domain.Item
		kind          string
		status        string
		assigned      string
		watched       string
		labels        string
		tags          string
		branches      string
		departments   string
		customFields  string
		products      string
		payments      string
		conversations string
		extra         string
		stageChanged  sql.NullString
		createdAt     string
		modifiedAt    string
	)
	err := row.Scan(
		&item.ID, &kind, &item.Name, &item.StageID, &item.InitialStageID,
		&item.Order, &status,
		&assigned, &watched, &labels, &tags, &branches, &departments,
		&customFields, &products, &payments, &conversations, &extra,
		&stageChanged,
		&item.CreatedBy, &item.ModifiedBy, &createdAt, &modifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Item{}, err
	}
	item.Kind = domain.Kind(kind)
	item.Status = domain.Status(status)
	for _, dec := range []struct {
		raw  string
		dest any
		what string
	}{
		{assigned, &item.AssignedUserIDs, "assigned users"},
		{watched, &item.WatchedUserIDs, "watched users"},
		{labels, &item.LabelIDs, "labels"},
		{tags, &item.TagIDs, "tags"},
		{branches, &item.BranchIDs, "branches"},
		{departments, &item.DepartmentIDs, "departments"},
		{customFields, &item.CustomFieldsData, "custom fields"},
		{products, &item.ProductsData, "products"},
		{payments, &item.PaymentsData, "payments"},
		{conversations, &item.SourceConversationIDs, "conversations"},
		{extra, &item.ExtraData, "extra data"},
	} {
		if err := json.Unmarshal([]byte(dec.raw), dec.dest); err != nil {
			return domain.Item{}, fmt.Errorf("decode %s: %w", dec.what, err)
		}
	}
	if stageChanged.Valid && stageChanged.String != "" {
		t := parseTS(stageChanged.String)
		item.StageChangedDate = &t
	}
	item.CreatedAt = parseTS(createdAt)
	item.ModifiedAt = parseTS(modifiedAt)
	return item, nil
}

// translateNoRows converts a zero-row update into ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts formats timestamps for storage.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS formats optional timestamps for storage.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

// parseTS parses stored timestamps, tolerating legacy second precision.
func parseTS(v string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

func idsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func fieldsOrEmpty(fields []domain.CustomFieldValue) []domain.CustomFieldValue {
	if fields == nil {
		return []domain.CustomFieldValue{}
	}
	return fields
}

func productsOrEmpty(products []domain.ProductData) []domain.ProductData {
	if products == nil {
		return []domain.ProductData{}
	}
	return products
}

func paymentsOrEmpty(payments map[string]domain.PaymentEntry) map[string]domain.PaymentEntry {
	if payments == nil {
		return map[string]domain.PaymentEntry{}
	}
	return payments
}

func extraOrEmpty(extra map[string]any) map[string]any {
	if extra == nil {
		return map[string]any{}
	}
	return extra
}
