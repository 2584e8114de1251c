package lectern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	serviceAPIBible    = "apibible"
	defaultAPIBibleURL = "https://api.scripture.api.bible/v1"
)

// ErrProviderUnauthorized indicates the provider rejected our API key
// (or we never had one). This is a configuration error, not a lookup
// error.
var ErrProviderUnauthorized = errors.New("provider rejected API key")

// apiBible queries a JSON passage API. Passage IDs are built from OSIS
// book codes; a version's book-mapping table overrides individual
// codes when the provider expects non-standard identifiers.
type apiBible struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

func newAPIBible(
	config ProviderConfig,
	httpClient *http.Client,
	timeout time.Duration,
	logger *slog.Logger,
) *apiBible {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIBibleURL
	}
	return &apiBible{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger.With(loggerNameKey, serviceAPIBible),
	}
}

func (*apiBible) Name() string {
	return serviceAPIBible
}

// passageID renders a verse range as the provider's passage
// identifier, e.g. "JHN.3.16-JHN.3.18".
func (*apiBible) passageID(bible *BibleVersion, ref VerseRange) string {
	code := strings.ToUpper(ref.Book.OSIS)
	if mapped, ok := bible.BookMapping[ref.Book.OSIS]; ok {
		code = mapped
	}
	id := fmt.Sprintf("%s.%d.%d", code, ref.StartChapter, ref.StartVerse)
	if ref.EndVerse != 0 {
		endChapter := ref.EndChapter
		if endChapter == 0 {
			endChapter = ref.StartChapter
		}
		id = fmt.Sprintf("%s-%s.%d.%d", id, code, endChapter, ref.EndVerse)
	}
	return id
}

type apiBiblePassageResponse struct {
	Data struct {
		Reference string `json:"reference"`
		Content   string `json:"content"`
	} `json:"data"`
}

type apiBibleSearchResponse struct {
	Data struct {
		Total  int `json:"total"`
		Verses []struct {
			Reference string `json:"reference"`
			Text      string `json:"text"`
		} `json:"verses"`
	} `json:"data"`
}

// bracketedVerseNum matches the provider's inline verse markers, e.g.
// "[16] For God so loved...".
var bracketedVerseNum = regexp.MustCompile(`\[(\d+)\]`)

func (a *apiBible) GetPassage(
	ctx context.Context,
	bible *BibleVersion,
	ref VerseRange,
) (*Passage, error) {
	query := url.Values{}
	query.Set("content-type", "text")
	query.Set("include-verse-numbers", "true")
	query.Set("include-notes", "false")
	query.Set("include-titles", "false")

	endpoint := fmt.Sprintf(
		"%s/bibles/%s/passages/%s?%s",
		a.baseURL,
		url.PathEscape(bible.ServiceVersion),
		url.PathEscape(a.passageID(bible, ref)),
		query.Encode(),
	)

	var parsed apiBiblePassageResponse
	if err := a.fetchJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}
	if parsed.Data.Content == "" {
		return nil, fmt.Errorf("%w: empty passage for %s", ErrDoNotUnderstand, ref)
	}

	text := bracketedVerseNum.ReplaceAllStringFunc(
		parsed.Data.Content, func(match string) string {
			num := bracketedVerseNum.FindStringSubmatch(match)[1]
			return " " + verseMarkerPlaceholder(num) + " "
		},
	)

	return &Passage{
		Range: ref,
		Text:  normalizePassageText(text, bible.RTL),
	}, nil
}

func (a *apiBible) Search(
	ctx context.Context,
	bible *BibleVersion,
	terms string,
	limit int,
	offset int,
) (*SearchResults, error) {
	query := url.Values{}
	query.Set("query", terms)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("sort", "canonical")

	endpoint := fmt.Sprintf(
		"%s/bibles/%s/search?%s",
		a.baseURL,
		url.PathEscape(bible.ServiceVersion),
		query.Encode(),
	)

	var parsed apiBibleSearchResponse
	if err := a.fetchJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}

	results := &SearchResults{Total: parsed.Data.Total}
	for _, verse := range parsed.Data.Verses {
		ref, parseErr := ParseReference(verse.Reference)
		if parseErr != nil {
			a.logger.Debug(
				"skipping unparseable search result reference",
				"reference", verse.Reference,
			)
			continue
		}
		results.Passages = append(
			results.Passages, Passage{
				Range: ref,
				Text:  normalizePassageText(verse.Text, bible.RTL),
			},
		)
	}
	return results, nil
}

func (a *apiBible) fetchJSON(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrProviderUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: not found", ErrDoNotUnderstand)
	default:
		return fmt.Errorf(
			"%w: unexpected status %d",
			ErrDoNotUnderstand,
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDoNotUnderstand, err)
	}
	return nil
}
