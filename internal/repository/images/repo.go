// Package images persists image rows in SQLite.
package images

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lensquery/lensquery/internal/domain"
)

const maxPageSize = 200

const imageColumns = `id, filename, original_name, storage_path, size, mime_type,
	width, height, title, description, tags, content_hash, phash, created_at`

// Repo implements image CRUD over SQLite.
type Repo struct {
	conn *sql.DB
}

// New creates an image repository.
func New(conn *sql.DB) *Repo {
	return &Repo{conn: conn}
}

// Insert stores a new image row and returns its assigned ID.
func (r *Repo) Insert(ctx context.Context, img *domain.Image) (int64, error) {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	res, err := r.conn.ExecContext(ctx, `
		INSERT INTO images (filename, original_name, storage_path, size, mime_type,
			width, height, title, description, tags, content_hash, phash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.Filename, img.OriginalName, img.StoragePath, img.Size, img.MimeType,
		img.Width, img.Height, img.Title, img.Description, img.Tags,
		img.ContentHash, img.PHash, img.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert image id: %w", err)
	}
	img.ID = id
	return id, nil
}

// Get returns an image by ID.
func (r *Repo) Get(ctx context.Context, id int64) (domain.Image, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Image{}, fmt.Errorf("get image %d: %w", id, err)
	}
	return img, nil
}

// FindByContentHash returns the first image whose stored bytes hash to the
// given value, or ErrNotFound.
func (r *Repo) FindByContentHash(ctx context.Context, hash string) (domain.Image, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE content_hash = ? LIMIT 1`, hash)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Image{}, fmt.Errorf("find image by hash: %w", err)
	}
	return img, nil
}

// List returns a page of images ordered by newest first, plus the total
// row count. Limit is clamped to [1, 200]; a negative offset reads from 0.
func (r *Repo) List(ctx context.Context, limit, offset int) ([]domain.Image, int, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Image, 0, limit)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	return out, total, nil
}

// IDs returns every image ID in ascending order.
func (r *Repo) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id FROM images ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list image ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PHashes returns the perceptual hash of every image that has one, keyed
// by image ID. Used by the upload near-duplicate gate.
func (r *Repo) PHashes(ctx context.Context) (map[int64]string, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id, phash FROM images WHERE phash != ''`)
	if err != nil {
		return nil, fmt.Errorf("list image phashes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var ph string
		if err := rows.Scan(&id, &ph); err != nil {
			return nil, fmt.Errorf("scan image phash: %w", err)
		}
		out[id] = ph
	}
	return out, rows.Err()
}

// UpdateMeta replaces the user-editable metadata of an image.
func (r *Repo) UpdateMeta(ctx context.Context, id int64, title, description, tags string) error {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE images SET title = ?, description = ?, tags = ? WHERE id = ?`,
		title, description, tags, id)
	if err != nil {
		return fmt.Errorf("update image %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update image %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes an image row. Signal rows cascade via foreign keys.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete image %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete image %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (domain.Image, error) {
	var img domain.Image
	var created string
	err := row.Scan(&img.ID, &img.Filename, &img.OriginalName, &img.StoragePath,
		&img.Size, &img.MimeType, &img.Width, &img.Height,
		&img.Title, &img.Description, &img.Tags, &img.ContentHash, &img.PHash, &created)
	if err != nil {
		return domain.Image{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		img.CreatedAt = t
	}
	return img, nil
}
