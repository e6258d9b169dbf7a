package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/midrel/internal/catalog"
	"github.com/roach88/midrel/internal/pipeline"
	"github.com/roach88/midrel/internal/stage"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	TokenFile    string
	Sample       string
	Type         string
	ListFile     string
	CollectionID int64
	BaseURL      string
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload [maps...]",
		Short: "Publish maps to a NeuroVault collection",
		Long: `Upload group or ICC maps to NeuroVault. A new collection named after the
sample is created unless --collection names an existing one. With --db,
maps already uploaded to the collection are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(rootOpts, opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TokenFile, "token", "", "file holding the NeuroVault access token")
	cmd.Flags().StringVar(&opts.Sample, "sample", "", "sample name used for the collection (default from config)")
	cmd.Flags().StringVar(&opts.Type, "type", "group", "map type label (group|icc)")
	cmd.Flags().StringVar(&opts.ListFile, "list", "", "file listing one map path per line")
	cmd.Flags().Int64Var(&opts.CollectionID, "collection", 0, "existing collection id")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", catalog.DefaultBaseURL, "NeuroVault API base URL")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runUpload(rootOpts *RootOptions, opts *UploadOptions, args []string, cmd *cobra.Command) error {
	s, err := openSession(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	switch opts.Type {
	case "group", "icc":
	default:
		return s.fail("upload", stage.Invalid("--type must be group or icc, got %q", opts.Type))
	}
	paths := append([]string(nil), args...)
	if opts.ListFile != "" {
		listed, err := readList(opts.ListFile)
		if err != nil {
			return s.fail("read map list", err)
		}
		paths = append(paths, listed...)
	}
	if len(paths) == 0 {
		return s.fail("upload", stage.MissingInput("", "no maps to upload"))
	}
	token, err := catalog.ReadToken(opts.TokenFile)
	if err != nil {
		return s.fail("read token", err)
	}
	sample := opts.Sample
	if sample == "" {
		sample = s.cfg.Sample
	}

	req := catalog.Request{
		Sample:       sample,
		Type:         opts.Type,
		Paths:        paths,
		CollectionID: opts.CollectionID,
	}
	var rec catalog.Recorder
	if s.store != nil {
		id, err := pipeline.TimeOrderedIDs{}.Next()
		if err != nil {
			return s.fail("upload", err)
		}
		req.RunID = id
		if err := s.store.BeginRun(s.ctx, req.RunID, "upload", req); err != nil {
			return s.fail("upload", err)
		}
		rec = s.store
	}

	res, err := catalog.Publish(s.ctx, catalog.New(opts.BaseURL, token), rec, req)
	if s.store != nil {
		if ferr := s.store.FinishRun(s.ctx, req.RunID, err); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return s.fail("upload", err)
	}

	return s.out.Emit(req.RunID, res, func(w io.Writer) {
		fmt.Fprintf(w, "collection %d (%s): uploaded %d, skipped %d\n",
			res.Collection.ID, res.Collection.Name, len(res.Uploaded), len(res.Skipped))
	})
}

// readList returns the non-blank lines of path.
func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, stage.MissingInput(path, "map list not found")
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
