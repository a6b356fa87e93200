// Package signals persists derived signal rows: perceptual hashes, color
// histograms, whole-image embeddings, and region embeddings.
package signals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lensquery/lensquery/internal/domain"
)

// Repo implements signal storage over SQLite.
type Repo struct {
	conn *sql.DB
}

// New creates a signals repository.
func New(conn *sql.DB) *Repo {
	return &Repo{conn: conn}
}

// ReplaceHashes swaps every hash row of an image for the given set in one
// transaction, so readers never observe a partial mix of old and new rows.
func (r *Repo) ReplaceHashes(ctx context.Context, imageID int64, hashes []domain.HashRecord) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace hashes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM image_hashes WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("clear hashes for image %d: %w", imageID, err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_hashes (image_id, tile_index, grid_size, stride, hash)
			VALUES (?, ?, ?, ?, ?)`,
			imageID, h.TileIndex, h.GridSize, h.Stride, h.Hash); err != nil {
			return fmt.Errorf("insert hash for image %d: %w", imageID, err)
		}
	}
	return tx.Commit()
}

// HashesForImages returns hash rows grouped by image for the given IDs.
func (r *Repo) HashesForImages(ctx context.Context, ids []int64) (map[int64][]domain.HashRecord, error) {
	out := make(map[int64][]domain.HashRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT image_id, tile_index, grid_size, stride, hash
		FROM image_hashes WHERE image_id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.conn.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("hashes for images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h domain.HashRecord
		if err := rows.Scan(&h.ImageID, &h.TileIndex, &h.GridSize, &h.Stride, &h.Hash); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out[h.ImageID] = append(out[h.ImageID], h)
	}
	return out, rows.Err()
}

// AllHashes returns every hash row grouped by image. Used by whole-corpus
// hash fallback when semantic candidates run dry.
func (r *Repo) AllHashes(ctx context.Context) (map[int64][]domain.HashRecord, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT image_id, tile_index, grid_size, stride, hash FROM image_hashes`)
	if err != nil {
		return nil, fmt.Errorf("all hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.HashRecord)
	for rows.Next() {
		var h domain.HashRecord
		if err := rows.Scan(&h.ImageID, &h.TileIndex, &h.GridSize, &h.Stride, &h.Hash); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out[h.ImageID] = append(out[h.ImageID], h)
	}
	return out, rows.Err()
}

// ReplaceColors swaps every color histogram row of an image in one
// transaction.
func (r *Repo) ReplaceColors(ctx context.Context, imageID int64, colors []domain.ColorRecord) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace colors: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM image_colors WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("clear colors for image %d: %w", imageID, err)
	}
	for _, c := range colors {
		hist, err := json.Marshal(c.Histogram)
		if err != nil {
			return fmt.Errorf("marshal histogram: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_colors (image_id, variant, bin_count, histogram)
			VALUES (?, ?, ?, ?)`,
			imageID, c.Variant, c.BinCount, string(hist)); err != nil {
			return fmt.Errorf("insert color for image %d: %w", imageID, err)
		}
	}
	return tx.Commit()
}

// ColorsForImages returns color rows grouped by image for the given IDs.
func (r *Repo) ColorsForImages(ctx context.Context, ids []int64) (map[int64][]domain.ColorRecord, error) {
	out := make(map[int64][]domain.ColorRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT image_id, variant, bin_count, histogram
		FROM image_colors WHERE image_id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.conn.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("colors for images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanColor(rows)
		if err != nil {
			return nil, err
		}
		out[c.ImageID] = append(out[c.ImageID], c)
	}
	return out, rows.Err()
}

// AllColors returns every color row grouped by image.
func (r *Repo) AllColors(ctx context.Context) (map[int64][]domain.ColorRecord, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT image_id, variant, bin_count, histogram FROM image_colors`)
	if err != nil {
		return nil, fmt.Errorf("all colors: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.ColorRecord)
	for rows.Next() {
		c, err := scanColor(rows)
		if err != nil {
			return nil, err
		}
		out[c.ImageID] = append(out[c.ImageID], c)
	}
	return out, rows.Err()
}

// UpsertEmbedding writes the whole-image embedding for (image, model),
// replacing any prior vector.
func (r *Repo) UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO image_embeddings (image_id, model, dim, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (image_id, model) DO UPDATE SET
			dim = excluded.dim,
			vector = excluded.vector,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		rec.ImageID, rec.ModelID, rec.Dimension, domain.VectorToBytes(rec.Vector))
	if err != nil {
		return fmt.Errorf("upsert embedding for image %d: %w", rec.ImageID, err)
	}
	return nil
}

// CorpusByModel returns every whole-image embedding for a model joined
// with the image metadata the search results need.
func (r *Repo) CorpusByModel(ctx context.Context, model string) ([]domain.CorpusItem, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT e.image_id, i.filename, i.title, i.description, i.tags, e.vector
		FROM image_embeddings e
		JOIN images i ON i.id = e.image_id
		WHERE e.model = ?
		ORDER BY e.image_id`, model)
	if err != nil {
		return nil, fmt.Errorf("corpus for model %s: %w", model, err)
	}
	defer rows.Close()

	var out []domain.CorpusItem
	for rows.Next() {
		var item domain.CorpusItem
		var blob []byte
		if err := rows.Scan(&item.ImageID, &item.Filename, &item.Title,
			&item.Description, &item.Tags, &blob); err != nil {
			return nil, fmt.Errorf("scan corpus item: %w", err)
		}
		if item.Vector, err = domain.BytesToVector(blob); err != nil {
			return nil, fmt.Errorf("corpus item image %d: %w", item.ImageID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MissingEmbeddingImageIDs returns images lacking an embedding for the
// model, ascending. Lets reindex runs resume where they stopped.
func (r *Repo) MissingEmbeddingImageIDs(ctx context.Context, model string) ([]int64, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT i.id FROM images i
		LEFT JOIN image_embeddings e ON e.image_id = i.id AND e.model = ?
		WHERE e.image_id IS NULL
		ORDER BY i.id`, model)
	if err != nil {
		return nil, fmt.Errorf("missing embeddings for model %s: %w", model, err)
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

// ReplaceRegions swaps every region row of (image, model) in one
// transaction.
func (r *Repo) ReplaceRegions(ctx context.Context, imageID int64, model string, regions []domain.RegionRecord) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace regions: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM image_regions WHERE image_id = ? AND model = ?`, imageID, model); err != nil {
		return fmt.Errorf("clear regions for image %d: %w", imageID, err)
	}
	for _, reg := range regions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_regions (image_id, model, grid_size, overlap, x, y, w, h, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			imageID, model, reg.GridSize, reg.Overlap,
			reg.Rect.X, reg.Rect.Y, reg.Rect.W, reg.Rect.H,
			domain.VectorToBytes(reg.Vector)); err != nil {
			return fmt.Errorf("insert region for image %d: %w", imageID, err)
		}
	}
	return tx.Commit()
}

// RegionsByModel returns every region embedding stored for a model.
func (r *Repo) RegionsByModel(ctx context.Context, model string) ([]domain.RegionRecord, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT image_id, grid_size, overlap, x, y, w, h, vector FROM image_regions
		WHERE model = ? ORDER BY image_id, id`, model)
	if err != nil {
		return nil, fmt.Errorf("regions for model %s: %w", model, err)
	}
	defer rows.Close()

	var out []domain.RegionRecord
	for rows.Next() {
		reg := domain.RegionRecord{ModelID: model}
		var blob []byte
		if err := rows.Scan(&reg.ImageID, &reg.GridSize, &reg.Overlap,
			&reg.Rect.X, &reg.Rect.Y, &reg.Rect.W, &reg.Rect.H, &blob); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		if reg.Vector, err = domain.BytesToVector(blob); err != nil {
			return nil, fmt.Errorf("region image %d: %w", reg.ImageID, err)
		}
		reg.Dimension = len(reg.Vector)
		out = append(out, reg)
	}
	return out, rows.Err()
}

// ClearRegions deletes every region row for a model, used by full region
// rebuilds.
func (r *Repo) ClearRegions(ctx context.Context, model string) error {
	if _, err := r.conn.ExecContext(ctx,
		`DELETE FROM image_regions WHERE model = ?`, model); err != nil {
		return fmt.Errorf("clear regions for model %s: %w", model, err)
	}
	return nil
}

func scanColor(rows *sql.Rows) (domain.ColorRecord, error) {
	var c domain.ColorRecord
	var hist string
	if err := rows.Scan(&c.ImageID, &c.Variant, &c.BinCount, &hist); err != nil {
		return c, fmt.Errorf("scan color: %w", err)
	}
	if err := json.Unmarshal([]byte(hist), &c.Histogram); err != nil {
		return c, fmt.Errorf("unmarshal histogram for image %d: %w", c.ImageID, err)
	}
	return c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
