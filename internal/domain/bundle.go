package domain

import (
	"fmt"

	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// VideoDanmakuBundle is one video's metadata plus its comments in payload order.
type VideoDanmakuBundle struct {
	Video   VideoMetadata   `json:"video"`
	Danmaku []DanmakuRecord `json:"danmaku"`
}

func NewBundle(video VideoMetadata, records []DanmakuRecord) *VideoDanmakuBundle {
	if records == nil {
		records = []DanmakuRecord{}
	}
	return &VideoDanmakuBundle{Video: video, Danmaku: records}
}

func (b *VideoDanmakuBundle) BVID() string {
	if b == nil {
		return ""
	}
	return b.Video.BVID
}

func (b *VideoDanmakuBundle) Validate() error {
	if b == nil {
		return errors.NewValidationError("bundle is nil", "bundle", nil)
	}
	if err := ValidateBVID(b.Video.BVID); err != nil {
		return err
	}
	for i := range b.Danmaku {
		if b.Danmaku[i].VideoBVID != b.Video.BVID {
			return errors.NewValidationError(
				fmt.Sprintf("danmaku %d belongs to %s, not %s", i, b.Danmaku[i].VideoBVID, b.Video.BVID),
				"danmaku.video_bvid",
				b.Danmaku[i].VideoBVID,
			)
		}
	}
	return nil
}
