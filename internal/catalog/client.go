// Package catalog publishes statistical maps to a NeuroVault collection.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/stage"
)

// DefaultBaseURL is the public NeuroVault API.
const DefaultBaseURL = "https://neurovault.org/api"

// Client talks to the NeuroVault REST API with a personal access token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a client for baseURL. An empty baseURL selects DefaultBaseURL.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// ReadToken reads an access token from a file, trimming whitespace.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", stage.MissingInput(path, "token file not found")
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", stage.Invalid("token file %s is empty", path)
	}
	return token, nil
}

// Collection is a NeuroVault collection.
type Collection struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Image is an uploaded map.
type Image struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ImageMeta is the metadata sent with a map.
type ImageMeta struct {
	Name              string
	MapType           string
	Modality          string
	AnalysisLevel     string
	NumberOfSubjects  int
	TargetTemplate    string
	TypeDesign        string
	CognitiveParadigm string
}

func (m ImageMeta) fields() map[string]string {
	f := map[string]string{
		"name":                        m.Name,
		"map_type":                    m.MapType,
		"modality":                    m.Modality,
		"analysis_level":              m.AnalysisLevel,
		"target_template_image":       m.TargetTemplate,
		"type_design":                 m.TypeDesign,
		"cognitive_paradigm_cogatlas": m.CognitiveParadigm,
	}
	if m.NumberOfSubjects > 0 {
		f["number_of_subjects"] = strconv.Itoa(m.NumberOfSubjects)
	}
	return f
}

// CreateCollection creates a collection and returns it.
func (c *Client) CreateCollection(ctx context.Context, name string) (Collection, error) {
	var col Collection
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return col, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/collections/", bytes.NewReader(body))
	if err != nil {
		return col, fmt.Errorf("failed to create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, &col); err != nil {
		return col, fmt.Errorf("create collection %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Info("created collection", "id", col.ID, "name", col.Name)
	return col, nil
}

// AddImage uploads the map at path to a collection.
func (c *Client) AddImage(ctx context.Context, collectionID int64, path string, meta ImageMeta) (Image, error) {
	var img Image
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return img, stage.MissingInput(path, "map not found")
	}
	if err != nil {
		return img, fmt.Errorf("failed to open map: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range meta.fields() {
		if err := w.WriteField(k, v); err != nil {
			return img, err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return img, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return img, fmt.Errorf("failed to read map: %w", err)
	}
	if err := w.Close(); err != nil {
		return img, err
	}

	url := fmt.Sprintf("%s/collections/%d/images/", c.BaseURL, collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return img, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := c.do(req, &img); err != nil {
		return img, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// do sends req with the token and decodes a JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("request failed with status %s: %s", resp.Status, msg)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
