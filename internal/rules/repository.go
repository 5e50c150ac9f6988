package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// ruleColumns selects a rule aliased r joined to its category c.
const ruleColumns = `r.id, r.category_id, c.name, c.slug, r.title, r.subtitle, r.content, r.slug, r.order_index,
r.is_published, r.is_featured, r.view_count, r.version, r.tags, COALESCE(r.created_by, 0), COALESCE(r.updated_by, 0),
r.published_at, r.expires_at, r.created_at, r.updated_at`

const categoryColumns = `c.id, c.name, c.slug, c.description, c.order_index, c.is_active, c.created_at, c.updated_at`

// Repository persists categories and rules in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRule(row pgx.Row) (*Rule, error) {
	var (
		r                  Rule
		published, expires pgtype.Timestamptz
	)
	err := row.Scan(&r.ID, &r.CategoryID, &r.Category.Name, &r.Category.Slug, &r.Title, &r.Subtitle, &r.Content,
		&r.Slug, &r.OrderIndex, &r.IsPublished, &r.IsFeatured, &r.ViewCount, &r.Version, &r.Tags,
		&r.CreatedBy, &r.UpdatedBy, &published, &expires, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, db.Translate(err)
	}
	r.Category.ID = r.CategoryID
	if published.Valid {
		t := published.Time
		r.PublishedAt = &t
	}
	if expires.Valid {
		t := expires.Time
		r.ExpiresAt = &t
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return &r, nil
}

func scanCategory(row pgx.Row, withCount bool) (*Category, error) {
	var c Category
	dest := []any{&c.ID, &c.Name, &c.Slug, &c.Description, &c.OrderIndex, &c.IsActive, &c.CreatedAt, &c.UpdatedAt}
	if withCount {
		dest = append(dest, &c.RuleCount)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, db.Translate(err)
	}
	return &c, nil
}

// ListRules returns a page of rules visible at now and the total match count.
func (r *Repository) ListRules(ctx context.Context, f ListFilter, now time.Time) ([]Rule, int, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	clauses := []string{
		"r.deleted_at IS NULL",
		"r.is_published",
		"(r.expires_at IS NULL OR r.expires_at > " + arg(now) + ")",
	}
	if f.CategorySlug != "" {
		clauses = append(clauses, "c.slug = "+arg(f.CategorySlug))
	}
	if f.FeaturedOnly {
		clauses = append(clauses, "r.is_featured")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + s + "%")
		clauses = append(clauses, fmt.Sprintf("(r.title ILIKE %s OR r.subtitle ILIKE %s OR r.content ILIKE %s OR array_to_string(r.tags, ' ') ILIKE %s)", p, p, p, p))
	}
	from := ` FROM rules r JOIN categories c ON c.id = r.category_id WHERE ` + strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+from+
		` ORDER BY r.order_index, r.created_at DESC, r.id LIMIT `+arg(f.Limit)+` OFFSET `+arg(f.Offset), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rule)
	}
	return out, total, rows.Err()
}

// FindRule fetches a rule that has not been deleted, published or not.
func (r *Repository) FindRule(ctx context.Context, id int64) (*Rule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+`
FROM rules r JOIN categories c ON c.id = r.category_id
WHERE r.id = $1 AND r.deleted_at IS NULL`, id))
}

// FindRuleBySlug fetches a rule that has not been deleted by slug.
func (r *Repository) FindRuleBySlug(ctx context.Context, slug string) (*Rule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+`
FROM rules r JOIN categories c ON c.id = r.category_id
WHERE r.slug = $1 AND r.deleted_at IS NULL`, slug))
}

// IncrementViews bumps the view counter.
func (r *Repository) IncrementViews(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE rules SET view_count = view_count + 1 WHERE id = $1`, id)
	return err
}

// SlugTaken reports whether any rule, deleted ones included, other than
// exceptID holds slug.
func (r *Repository) SlugTaken(ctx context.Context, slug string, exceptID int64) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rules WHERE slug = $1 AND id <> $2)`, slug, exceptID).Scan(&taken)
	return taken, err
}

// CreateRule inserts a rule and records the audit entry in the same transaction.
func (r *Repository) CreateRule(ctx context.Context, in NewRule, publishedAt *time.Time, audit shared.AuditLog) (*Rule, error) {
	var out *Rule
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `WITH r AS (
	INSERT INTO rules (category_id, title, subtitle, content, slug, order_index, is_published, is_featured, tags,
		created_by, updated_by, published_at, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11, $12, NOW(), NOW())
	RETURNING *
)
SELECT `+ruleColumns+` FROM r JOIN categories c ON c.id = r.category_id`,
			in.CategoryID, in.Title, in.Subtitle, in.Content, in.Slug, in.OrderIndex, in.IsPublished, in.IsFeatured,
			tagsOrEmpty(in.Tags), nullID(audit.ActorID), publishedAt, in.ExpiresAt)
		rule, err := scanRule(row)
		if err != nil {
			return err
		}
		audit.EntityID = strconv.FormatInt(rule.ID, 10)
		if err := shared.RecordAudit(ctx, tx, audit); err != nil {
			return err
		}
		out = rule
		return nil
	})
	return out, err
}

// UpdateRule applies changes computed by the service. version and
// publishedAt are the final values.
func (r *Repository) UpdateRule(ctx context.Context, id int64, c RuleChanges, version int, publishedAt *time.Time, audit shared.AuditLog) (*Rule, error) {
	var tags []string
	if c.Tags != nil {
		tags = tagsOrEmpty(c.Tags)
	}
	var out *Rule
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `WITH r AS (
	UPDATE rules SET
		category_id = COALESCE($2, category_id),
		title = COALESCE($3, title),
		subtitle = COALESCE($4, subtitle),
		content = COALESCE($5, content),
		order_index = COALESCE($6, order_index),
		is_published = COALESCE($7, is_published),
		is_featured = COALESCE($8, is_featured),
		tags = COALESCE($9, tags),
		expires_at = CASE WHEN $10 THEN NULL ELSE COALESCE($11, expires_at) END,
		version = $12,
		published_at = $13,
		updated_by = $14,
		updated_at = NOW()
	WHERE id = $1 AND deleted_at IS NULL
	RETURNING *
)
SELECT `+ruleColumns+` FROM r JOIN categories c ON c.id = r.category_id`,
			id, c.CategoryID, c.Title, c.Subtitle, c.Content, c.OrderIndex, c.IsPublished, c.IsFeatured, tags,
			c.ClearExpiry, c.ExpiresAt, version, publishedAt, nullID(audit.ActorID))
		rule, err := scanRule(row)
		if err != nil {
			return err
		}
		if err := shared.RecordAudit(ctx, tx, audit); err != nil {
			return err
		}
		out = rule
		return nil
	})
	return out, err
}

// SoftDeleteRule hides a rule. Its slug stays reserved.
func (r *Repository) SoftDeleteRule(ctx context.Context, id int64, at time.Time, audit shared.AuditLog) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rules SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return shared.RecordAudit(ctx, tx, audit)
	})
}

// ListCategories returns categories in display order with their count of
// rules visible at now.
func (r *Repository) ListCategories(ctx context.Context, activeOnly bool, now time.Time) ([]Category, error) {
	where := ""
	if activeOnly {
		where = "WHERE c.is_active"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+`,
	(SELECT COUNT(*) FROM rules r WHERE r.category_id = c.id AND r.deleted_at IS NULL AND r.is_published
		AND (r.expires_at IS NULL OR r.expires_at > $1))
FROM categories c `+where+`
ORDER BY c.order_index, c.name`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// FindCategory fetches a category.
func (r *Repository) FindCategory(ctx context.Context, id int64) (*Category, error) {
	return scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories c WHERE c.id = $1`, id), false)
}

// CreateCategory inserts a category. A duplicate slug surfaces as shared.ErrConflict.
func (r *Repository) CreateCategory(ctx context.Context, c Category, audit shared.AuditLog) (*Category, error) {
	var out *Category
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		created, err := scanCategory(tx.QueryRow(ctx, `INSERT INTO categories AS c (name, slug, description, order_index, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING `+categoryColumns, c.Name, c.Slug, c.Description, c.OrderIndex, c.IsActive, nullID(audit.ActorID)), false)
		if err != nil {
			return err
		}
		audit.EntityID = strconv.FormatInt(created.ID, 10)
		if err := shared.RecordAudit(ctx, tx, audit); err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// UpdateCategory applies changes. slug is the new slug when the name changed.
func (r *Repository) UpdateCategory(ctx context.Context, id int64, in CategoryInput, slug *string, audit shared.AuditLog) (*Category, error) {
	var out *Category
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		updated, err := scanCategory(tx.QueryRow(ctx, `UPDATE categories AS c SET
	name = COALESCE($2, name),
	slug = COALESCE($3, slug),
	description = COALESCE($4, description),
	order_index = COALESCE($5, order_index),
	is_active = COALESCE($6, is_active),
	updated_at = NOW()
WHERE id = $1
RETURNING `+categoryColumns, id, in.Name, slug, in.Description, in.OrderIndex, in.IsActive), false)
		if err != nil {
			return err
		}
		if err := shared.RecordAudit(ctx, tx, audit); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// DeleteCategory removes an empty category. A category that still holds
// live rules fails with shared.ErrInvalidState; soft-deleted rules go with it.
func (r *Repository) DeleteCategory(ctx context.Context, id int64, audit shared.AuditLog) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		var live int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM rules WHERE category_id = $1 AND deleted_at IS NULL`, id).Scan(&live); err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("%w: category still holds %d rules; move or delete them first", shared.ErrInvalidState, live)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rules WHERE category_id = $1 AND deleted_at IS NOT NULL`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
			return db.Translate(err)
		}
		return shared.RecordAudit(ctx, tx, audit)
	})
}

func nullID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
