package lectern

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	serviceBibleGateway       = "biblegateway"
	defaultBibleGatewayURL    = "https://www.biblegateway.com"
	bibleGatewaySearchPerPage = 25
)

// bibleGateway scrapes passage and search pages from an HTML text
// provider. Response markup is parsed with x/net/html; anything the
// walker can't reduce to at least one verse raises
// [ErrDoNotUnderstand].
type bibleGateway struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

func newBibleGateway(
	config ProviderConfig,
	httpClient *http.Client,
	timeout time.Duration,
	logger *slog.Logger,
) *bibleGateway {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBibleGatewayURL
	}
	return &bibleGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger.With(loggerNameKey, serviceBibleGateway),
	}
}

func (*bibleGateway) Name() string {
	return serviceBibleGateway
}

// passageQuery renders a verse range in the provider's search syntax,
// remapping the book name through the version's mapping table when one
// is present.
func (*bibleGateway) passageQuery(bible *BibleVersion, ref VerseRange) string {
	book := bible.ProviderBookName(ref.Book)
	q := fmt.Sprintf("%s %d:%d", book, ref.StartChapter, ref.StartVerse)
	switch {
	case ref.EndVerse == 0:
	case ref.EndChapter != 0 && ref.EndChapter != ref.StartChapter:
		q = fmt.Sprintf("%s-%d:%d", q, ref.EndChapter, ref.EndVerse)
	default:
		q = fmt.Sprintf("%s-%d", q, ref.EndVerse)
	}
	return q
}

func (b *bibleGateway) GetPassage(
	ctx context.Context,
	bible *BibleVersion,
	ref VerseRange,
) (*Passage, error) {
	query := url.Values{}
	query.Set("search", b.passageQuery(bible, ref))
	query.Set("version", bible.ServiceVersion)
	query.Set("interface", "print")

	doc, err := b.fetch(ctx, b.baseURL+"/passage/?"+query.Encode())
	if err != nil {
		return nil, err
	}

	passageDiv := findFirstNode(
		doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && nodeHasClass(n, "passage-text")
		},
	)
	if passageDiv == nil {
		return nil, fmt.Errorf("%w: no passage found for %s", ErrDoNotUnderstand, ref)
	}

	var sb strings.Builder
	renderPassageNode(&sb, passageDiv)
	text := normalizePassageText(sb.String(), bible.RTL)
	if text == "" {
		return nil, fmt.Errorf("%w: empty passage for %s", ErrDoNotUnderstand, ref)
	}

	return &Passage{Range: ref, Text: text}, nil
}

func (b *bibleGateway) Search(
	ctx context.Context,
	bible *BibleVersion,
	terms string,
	limit int,
	offset int,
) (*SearchResults, error) {
	page := offset/bibleGatewaySearchPerPage + 1

	query := url.Values{}
	query.Set("quicksearch", terms)
	query.Set("version", bible.ServiceVersion)
	query.Set("search_type", "all")
	query.Set("page", strconv.Itoa(page))
	query.Set("interface", "print")

	doc, err := b.fetch(ctx, b.baseURL+"/quicksearch/?"+query.Encode())
	if err != nil {
		return nil, err
	}

	results := &SearchResults{}

	if totalNode := findFirstNode(
		doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && nodeHasClass(n, "search-total-results")
		},
	); totalNode != nil {
		fields := strings.Fields(nodeText(totalNode))
		if len(fields) > 0 {
			results.Total, _ = strconv.Atoi(fields[0])
		}
	}

	items := findAllNodes(
		doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && nodeHasClass(n, "bible-item")
		},
	)
	for _, item := range items {
		if len(results.Passages) >= limit {
			break
		}
		titleNode := findFirstNode(
			item, func(n *html.Node) bool {
				return n.Type == html.ElementNode && nodeHasClass(n, "bible-item-title")
			},
		)
		textNode := findFirstNode(
			item, func(n *html.Node) bool {
				return n.Type == html.ElementNode && nodeHasClass(n, "bible-item-text")
			},
		)
		if titleNode == nil || textNode == nil {
			continue
		}
		ref, parseErr := ParseReference(nodeText(titleNode))
		if parseErr != nil {
			b.logger.Debug(
				"skipping unparseable search result reference",
				"reference", nodeText(titleNode),
			)
			continue
		}
		results.Passages = append(
			results.Passages, Passage{
				Range: ref,
				Text:  normalizePassageText(nodeText(textNode), bible.RTL),
			},
		)
	}

	if results.Total == 0 && len(results.Passages) > 0 {
		results.Total = len(results.Passages)
	}
	return results, nil
}

func (b *bibleGateway) fetch(ctx context.Context, rawURL string) (*html.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: unexpected status %d",
			ErrDoNotUnderstand,
			resp.StatusCode,
		)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDoNotUnderstand, err)
	}
	return doc, nil
}

// renderPassageNode walks passage markup, emitting verse text with
// verse-number placeholders and markdown emphasis, and dropping
// headings, footnotes and cross-references.
func renderPassageNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "h1", "h2", "h3", "h4", "script", "style":
			return
		case "sup":
			switch {
			case nodeHasClass(n, "versenum"):
				sb.WriteString(" " + verseMarkerPlaceholder(nodeText(n)) + " ")
			case nodeHasClass(n, "footnote"), nodeHasClass(n, "crossreference"):
				// dropped
			}
			return
		case "span":
			if nodeHasClass(n, "chapternum") {
				sb.WriteString(" " + verseMarkerPlaceholder("1") + " ")
				return
			}
		case "div":
			if nodeHasClass(n, "footnotes") || nodeHasClass(n, "crossrefs") ||
				nodeHasClass(n, "publisher-info-bottom") {
				return
			}
		case "i", "em":
			sb.WriteString("*")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				renderPassageNode(sb, c)
			}
			sb.WriteString("*")
			return
		case "br", "p":
			sb.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderPassageNode(sb, c)
	}
}

// nodeHasClass reports whether the node's class attribute contains the
// given class name.
func nodeHasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func findFirstNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirstNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAllNodes(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	if match(n) {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, findAllNodes(c, match)...)
	}
	return out
}

// nodeText concatenates all descendant text nodes of n.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
