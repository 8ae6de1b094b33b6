package main

import (
	_ "embed"
	"encoding/json"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// sampleBundle is a small captured bundle used for offline analysis.
//
//go:embed sample_bundle.json
var sampleBundle []byte

func decodeSample() (*domain.VideoDanmakuBundle, error) {
	var bundle domain.VideoDanmakuBundle
	if err := json.Unmarshal(sampleBundle, &bundle); err != nil {
		return nil, errors.NewCacheError("invalid sample bundle", "seed_sample", "sample_bundle.json", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}
