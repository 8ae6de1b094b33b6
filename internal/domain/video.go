package domain

import (
	"regexp"
	"time"

	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// bvidPattern admits the platform's alphanumeric ids and nothing that could
// escape a directory when used as a file name.
var bvidPattern = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// VideoMetadata identifies one video. Optional fields stay nil when the
// platform did not report them and serialize as null.
type VideoMetadata struct {
	AID          int64      `json:"aid"`
	BVID         string     `json:"bvid"`
	CID          int64      `json:"cid"`
	Title        string     `json:"title"`
	Keyword      string     `json:"keyword"`
	Duration     *int64     `json:"duration"` // seconds
	PublishTime  *time.Time `json:"publish_time"`
	OwnerName    *string    `json:"owner_name"`
	ViewCount    *int64     `json:"view_count"`
	DanmakuCount *int64     `json:"danmaku_count"`
	LikeCount    *int64     `json:"like_count"`
	RankingIndex *int       `json:"ranking_index"`
}

func (v *VideoMetadata) URL() string {
	if v == nil || v.BVID == "" {
		return ""
	}
	return "https://www.bilibili.com/video/" + v.BVID
}

func (v *VideoMetadata) Rank() int {
	if v == nil || v.RankingIndex == nil {
		return 0
	}
	return *v.RankingIndex
}

func (v *VideoMetadata) Owner() string {
	if v == nil || v.OwnerName == nil {
		return ""
	}
	return *v.OwnerName
}

// ValidateBVID rejects empty ids and ids that are not plain alphanumerics.
func ValidateBVID(bvid string) error {
	if bvid == "" {
		return errors.NewValidationError("bundle has no bvid", "video.bvid", bvid)
	}
	if !bvidPattern.MatchString(bvid) {
		return errors.NewValidationError("bvid is not alphanumeric", "video.bvid", bvid)
	}
	return nil
}
