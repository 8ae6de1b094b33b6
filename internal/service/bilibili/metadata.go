package bilibili

import (
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// ExtractMetadata turns a video-info payload into VideoMetadata.
//
//	aid, bvid        required, MissingFieldError otherwise
//	title            "" when absent
//	duration         nil when absent or 0
//	pubdate          nil when absent or 0, UTC otherwise
//	stat.*, owner.*  nil when the section or key is absent
func ExtractMetadata(view *ViewData, keyword string, cid int64, rank *int) (domain.VideoMetadata, error) {
	if view == nil {
		return domain.VideoMetadata{}, errors.NewMissingFieldError("data")
	}
	if view.AID == nil {
		return domain.VideoMetadata{}, errors.NewMissingFieldError("aid")
	}
	if view.BVID == nil || *view.BVID == "" {
		return domain.VideoMetadata{}, errors.NewMissingFieldError("bvid")
	}
	if err := domain.ValidateBVID(*view.BVID); err != nil {
		return domain.VideoMetadata{}, err
	}

	meta := domain.VideoMetadata{
		AID:     *view.AID,
		BVID:    *view.BVID,
		CID:     cid,
		Keyword: keyword,
	}
	if view.Title != nil {
		meta.Title = *view.Title
	}
	if view.Duration != nil && *view.Duration != 0 {
		d := *view.Duration
		meta.Duration = &d
	}
	if view.Pubdate != nil && *view.Pubdate != 0 {
		t := time.Unix(*view.Pubdate, 0).UTC()
		meta.PublishTime = &t
	}
	if view.Stat != nil {
		meta.ViewCount = copyInt64(view.Stat.View)
		meta.DanmakuCount = copyInt64(view.Stat.Danmaku)
		meta.LikeCount = copyInt64(view.Stat.Like)
	}
	if view.Owner != nil && view.Owner.Name != nil {
		name := *view.Owner.Name
		meta.OwnerName = &name
	}
	if rank != nil {
		r := *rank
		meta.RankingIndex = &r
	}
	return meta, nil
}

// ResolveCID returns the comment stream id of a view payload.
func ResolveCID(view *ViewData) (int64, error) {
	if view == nil || view.CID == nil || *view.CID == 0 {
		return 0, errors.NewMissingFieldError("cid")
	}
	return *view.CID, nil
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
