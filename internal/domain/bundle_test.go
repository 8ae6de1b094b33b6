package domain

import (
	"testing"

	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

func TestNewBundleNormalizesNilRecords(t *testing.T) {
	b := NewBundle(VideoMetadata{BVID: "BV1"}, nil)
	if b.Danmaku == nil {
		t.Fatal("danmaku slice should never be nil")
	}
	if b.BVID() != "BV1" {
		t.Fatalf("BVID() = %q", b.BVID())
	}
}

func TestBundleValidate(t *testing.T) {
	good := NewBundle(VideoMetadata{BVID: "BV1"}, []DanmakuRecord{{VideoBVID: "BV1"}})
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		bundle *VideoDanmakuBundle
		field  string
	}{
		{"nil", nil, "bundle"},
		{"missing bvid", NewBundle(VideoMetadata{}, nil), "video.bvid"},
		{"path traversal bvid", NewBundle(VideoMetadata{BVID: "../BV1"}, nil), "video.bvid"},
		{"foreign record", NewBundle(VideoMetadata{BVID: "BV1"}, []DanmakuRecord{{VideoBVID: "BV2"}}), "danmaku.video_bvid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var validation *errors.ValidationError
			if err := tt.bundle.Validate(); !errors.As(err, &validation) || validation.Field != tt.field {
				t.Fatalf("Validate() = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestValidateBVID(t *testing.T) {
	tests := []struct {
		bvid string
		ok   bool
	}{
		{"BV17x411w7KC", true},
		{"BV1", true},
		{"", false},
		{"..", false},
		{"../../etc/passwd", false},
		{"BV1/x", false},
		{`BV1\x`, false},
		{"BV1.json", false},
		{"BV 1", false},
	}
	for _, tt := range tests {
		err := ValidateBVID(tt.bvid)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateBVID(%q) = %v, want ok=%v", tt.bvid, err, tt.ok)
		}
		var validation *errors.ValidationError
		if err != nil && !errors.As(err, &validation) {
			t.Errorf("ValidateBVID(%q) error type = %T", tt.bvid, err)
		}
	}
}

func TestVideoMetadataAccessors(t *testing.T) {
	rank := 4
	owner := "up主"
	v := &VideoMetadata{BVID: "BV1xx", RankingIndex: &rank, OwnerName: &owner}
	if v.URL() != "https://www.bilibili.com/video/BV1xx" {
		t.Fatalf("URL() = %q", v.URL())
	}
	if v.Rank() != 4 || v.Owner() != "up主" {
		t.Fatalf("accessors returned %d %q", v.Rank(), v.Owner())
	}

	var empty *VideoMetadata
	if empty.Rank() != 0 || empty.Owner() != "" || empty.URL() != "" {
		t.Fatal("nil metadata should yield zero values")
	}
}
