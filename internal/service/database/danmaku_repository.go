package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS videos (
		bvid             TEXT PRIMARY KEY,
		aid              BIGINT NOT NULL,
		cid              BIGINT NOT NULL,
		title            TEXT NOT NULL,
		keyword          TEXT NOT NULL,
		duration_seconds BIGINT,
		publish_time     TIMESTAMPTZ,
		owner_name       TEXT,
		view_count       BIGINT,
		danmaku_count    BIGINT,
		like_count       BIGINT,
		ranking_index    INTEGER,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS danmaku (
		id             BIGSERIAL PRIMARY KEY,
		video_bvid     TEXT NOT NULL REFERENCES videos(bvid) ON DELETE CASCADE,
		video_cid      BIGINT NOT NULL,
		content        TEXT NOT NULL,
		appear_time    DOUBLE PRECISION NOT NULL,
		send_time      TIMESTAMPTZ NOT NULL,
		mode           INTEGER NOT NULL,
		font_size      INTEGER NOT NULL,
		font_color     BIGINT NOT NULL,
		author_hash    TEXT,
		weight         INTEGER,
		pool           INTEGER,
		raw_attributes TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_danmaku_video_bvid ON danmaku(video_bvid);
`

var danmakuColumns = []string{
	"video_bvid", "video_cid", "content", "appear_time", "send_time", "mode",
	"font_size", "font_color", "author_hash", "weight", "pool", "raw_attributes",
}

// DanmakuRepository mirrors bundles into the videos and danmaku tables.
type DanmakuRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDanmakuRepository(postgres *PostgresService, logger *zap.Logger) *DanmakuRepository {
	return &DanmakuRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

func (r *DanmakuRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveBundle upserts the video row and replaces its comments in one
// transaction.
func (r *DanmakuRepository) SaveBundle(ctx context.Context, bundle *domain.VideoDanmakuBundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO videos (bvid, aid, cid, title, keyword, duration_seconds, publish_time,
		                    owner_name, view_count, danmaku_count, like_count, ranking_index, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (bvid) DO UPDATE SET
			aid = EXCLUDED.aid,
			cid = EXCLUDED.cid,
			title = EXCLUDED.title,
			keyword = EXCLUDED.keyword,
			duration_seconds = EXCLUDED.duration_seconds,
			publish_time = EXCLUDED.publish_time,
			owner_name = EXCLUDED.owner_name,
			view_count = EXCLUDED.view_count,
			danmaku_count = EXCLUDED.danmaku_count,
			like_count = EXCLUDED.like_count,
			ranking_index = EXCLUDED.ranking_index,
			updated_at = NOW()
	`, videoArgs(bundle.Video)...)
	if err != nil {
		return fmt.Errorf("failed to upsert video %s: %w", bundle.Video.BVID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM danmaku WHERE video_bvid = $1`, bundle.Video.BVID); err != nil {
		return fmt.Errorf("failed to clear danmaku for %s: %w", bundle.Video.BVID, err)
	}

	if len(bundle.Danmaku) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("danmaku", danmakuColumns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		for _, record := range bundle.Danmaku {
			if _, err := stmt.ExecContext(ctx, danmakuArgs(record)...); err != nil {
				stmt.Close()
				return fmt.Errorf("failed to copy danmaku for %s: %w", bundle.Video.BVID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to flush copy for %s: %w", bundle.Video.BVID, err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("failed to close copy for %s: %w", bundle.Video.BVID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle %s: %w", bundle.Video.BVID, err)
	}

	r.logger.Debug("Bundle exported",
		zap.String("bvid", bundle.Video.BVID),
		zap.Int("danmaku", len(bundle.Danmaku)),
	)
	return nil
}

// ExportBundles saves every bundle and returns how many comment rows were
// written. It stops at the first failure.
func (r *DanmakuRepository) ExportBundles(ctx context.Context, bundles []*domain.VideoDanmakuBundle) (int, error) {
	rows := 0
	for _, bundle := range bundles {
		if err := r.SaveBundle(ctx, bundle); err != nil {
			return rows, err
		}
		rows += len(bundle.Danmaku)
	}
	r.logger.Info("Bundles exported to PostgreSQL",
		zap.Int("videos", len(bundles)),
		zap.Int("danmaku", rows),
	)
	return rows, nil
}

// CountDanmaku returns the stored comment count for one video.
func (r *DanmakuRepository) CountDanmaku(ctx context.Context, bvid string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM danmaku WHERE video_bvid = $1`, bvid).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count danmaku: %w", err)
	}
	return count, nil
}

func videoArgs(v domain.VideoMetadata) []any {
	return []any{
		v.BVID,
		v.AID,
		v.CID,
		v.Title,
		v.Keyword,
		nullInt64(v.Duration),
		nullTime(v.PublishTime),
		nullString(v.OwnerName),
		nullInt64(v.ViewCount),
		nullInt64(v.DanmakuCount),
		nullInt64(v.LikeCount),
		nullInt(v.RankingIndex),
	}
}

func danmakuArgs(d domain.DanmakuRecord) []any {
	return []any{
		d.VideoBVID,
		d.VideoCID,
		d.Content,
		d.AppearTime,
		d.SendTime.UTC(),
		int(d.Mode),
		d.FontSize,
		d.FontColor,
		nullString(d.AuthorHash),
		nullInt(d.Weight),
		nullInt(d.Pool),
		d.Attributes(),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
