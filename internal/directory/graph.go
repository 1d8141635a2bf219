package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/example/pic-triage/internal/logging"
)

// GraphConfig configures the Graph-backed directory client.
type GraphConfig struct {
	// BaseURL of the directory API, e.g. https://graph.microsoft.com/v1.0.
	BaseURL string
	// TokenURL, ClientID, ClientSecret and Scope drive the OAuth2 client
	// credentials flow used to authorize directory calls.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	// RequestTimeout bounds each directory call. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// GraphDirectory implements Directory against a Microsoft-Graph-style REST
// API: paginated /users enumeration and /users/{id}/photo/$value fetches.
type GraphDirectory struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type subjectPage struct {
	Value    []Subject `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// NewGraphDirectory builds a directory client whose HTTP transport injects
// bearer tokens acquired through the client credentials flow.
func NewGraphDirectory(ctx context.Context, cfg GraphConfig, logger *zap.Logger) *GraphDirectory {
	cc := clientcredentials.Config{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{cfg.Scope},
	}
	client := cc.Client(ctx)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.Timeout = timeout

	return &GraphDirectory{
		baseURL: cfg.BaseURL,
		client:  client,
		logger:  logger.Named("directory"),
	}
}

// ListSubjects walks the paginated user collection until the continuation
// link is exhausted.
func (d *GraphDirectory) ListSubjects(ctx context.Context) ([]Subject, error) {
	next := d.baseURL + "/users?$select=id,displayName,userPrincipalName"
	var subjects []Subject
	for next != "" {
		page, err := d.fetchPage(ctx, next)
		if err != nil {
			return nil, logging.NewOperationError("directory.list_subjects", "", err)
		}
		subjects = append(subjects, page.Value...)
		next = page.NextLink
	}
	d.logger.Debug("listed subjects", zap.Int("count", len(subjects)))
	return subjects, nil
}

func (d *GraphDirectory) fetchPage(ctx context.Context, pageURL string) (*subjectPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
	var page subjectPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode subject page: %w", err)
	}
	return &page, nil
}

// FetchPhoto retrieves the raw photo bytes for one subject. A 404 from the
// directory maps to ErrNoPhoto; any other non-200 status is an error.
func (d *GraphDirectory) FetchPhoto(ctx context.Context, subjectID string) ([]byte, error) {
	photoURL := fmt.Sprintf("%s/users/%s/photo/$value", d.baseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return nil, logging.NewOperationError("directory.fetch_photo", subjectID, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("directory.fetch_photo", subjectID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoPhoto
	case resp.StatusCode != http.StatusOK:
		return nil, logging.NewOperationError("directory.fetch_photo", subjectID,
			fmt.Errorf("directory returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, logging.NewOperationError("directory.fetch_photo", subjectID, err)
	}
	return data, nil
}
