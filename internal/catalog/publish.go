package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/store"
)

// Map metadata shared by every upload.
const (
	MapType           = "Other"
	Modality          = "fMRI-BOLD"
	AnalysisLevel     = "G"
	TargetTemplate    = "GenericMNI"
	TypeDesign        = "event_related"
	CognitiveParadigm = "monetary incentive delay task"
)

// CollectionName names the collection of a sample.
func CollectionName(sample string) string {
	return fmt.Sprintf("%s: 3D MNI152 maps for multiverse reliability", sample)
}

// MetaFor describes the map at path. estType labels the estimate, such as
// "group" or "icc"; the sample size comes from the subs entity.
func MetaFor(estType, path string) ImageMeta {
	base := filepath.Base(path)
	return ImageMeta{
		Name:              fmt.Sprintf("%s: %s", estType, base),
		MapType:           MapType,
		Modality:          Modality,
		AnalysisLevel:     AnalysisLevel,
		NumberOfSubjects:  artifact.SampleSize(base),
		TargetTemplate:    TargetTemplate,
		TypeDesign:        TypeDesign,
		CognitiveParadigm: CognitiveParadigm,
	}
}

// Recorder remembers uploads so a rerun skips maps already published.
// *store.Store implements it.
type Recorder interface {
	Uploaded(ctx context.Context, contentHash, collection string) (bool, error)
	RecordUpload(ctx context.Context, runID string, u store.Upload) error
}

// Request is one publishing job.
type Request struct {
	Sample string
	// Type labels the maps, "group" or "icc".
	Type  string
	Paths []string
	// CollectionID reuses an existing collection; zero creates one.
	CollectionID int64
	RunID        string
}

// Result lists what a publish did.
type Result struct {
	Collection Collection `json:"collection"`
	Uploaded   []Image    `json:"uploaded"`
	Skipped    []string   `json:"skipped"`
}

// Publish uploads every map of req. rec may be nil.
func Publish(ctx context.Context, c *Client, rec Recorder, req Request) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	res := &Result{Collection: Collection{ID: req.CollectionID}}
	if req.CollectionID == 0 {
		col, err := c.CreateCollection(ctx, CollectionName(req.Sample))
		if err != nil {
			return nil, err
		}
		res.Collection = col
	}
	colKey := strconv.FormatInt(res.Collection.ID, 10)

	for _, path := range req.Paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var hash string
		if rec != nil {
			var err error
			if hash, err = artifact.ContentHash(path); err != nil {
				return res, fmt.Errorf("hash %s: %w", path, err)
			}
			done, err := rec.Uploaded(ctx, hash, colKey)
			if err != nil {
				return res, err
			}
			if done {
				log.Info("already uploaded, skipping", "path", path)
				res.Skipped = append(res.Skipped, path)
				continue
			}
		}

		meta := MetaFor(req.Type, path)
		img, err := c.AddImage(ctx, res.Collection.ID, path, meta)
		if err != nil {
			return res, err
		}
		log.Info("uploaded map", "path", path, "image_id", img.ID, "subjects", meta.NumberOfSubjects)
		res.Uploaded = append(res.Uploaded, img)

		if rec != nil {
			u := store.Upload{ContentHash: hash, Collection: colKey, Path: path, Name: meta.Name, ImageID: img.ID}
			if err := rec.RecordUpload(ctx, req.RunID, u); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}
