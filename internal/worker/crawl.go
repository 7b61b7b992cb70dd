package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/repo"
)

// Crawl fetches a URL and stores the extracted text as an artifact. No
// completion backend involved.
type Crawl struct {
	Repo       repo.Repo
	HTTPClient *http.Client
	MaxLength  int
	Now        func() time.Time
}

const (
	defaultMaxContentLength = 100000
	crawlTimeout            = 15 * time.Second
	crawlUserAgent          = "agentops/1.0 (research crawler)"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// extractText strips HTML tags and collapses whitespace.
func extractText(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = styleRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

func (h Crawl) nowStr() string {
	if h.Now != nil {
		return h.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (h Crawl) Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error) {
	target := stringField(step.Payload, "url", "source_url")
	if target == "" {
		return Outcome{}, errors.New("crawl step requires payload.url")
	}

	topic := stringField(step.Payload, "topic")
	if topic == "" {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			topic = u.Hostname()
		} else {
			topic = cut(target, 50)
		}
	}

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	fetchCtx, cancel := context.WithTimeout(ctx, crawlTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("bad url %q: %w", target, err)
	}
	req.Header.Set("User-Agent", crawlUserAgent)
	res, err := client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("fetch failed: %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("read body: %w", err)
	}
	body := string(raw)
	content := body
	if strings.Contains(res.Header.Get("Content-Type"), "html") || strings.HasPrefix(strings.TrimLeft(body, " \t\r\n"), "<") {
		content = extractText(body)
	}
	max := h.MaxLength
	if max <= 0 {
		max = defaultMaxContentLength
	}
	if len([]rune(content)) > max {
		content = cut(content, max) + "\n\n[…] truncated"
	}

	now := h.nowStr()
	missionID := step.MissionID
	stepID := step.ID
	art := domain.Artifact{
		ID:        uuid.New().String(),
		Title:     cut("Crawl: "+topic, 200),
		Content:   content,
		MissionID: &missionID,
		StepID:    &stepID,
		UpdatedBy: mission.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Repo.InsertArtifact(ctx, art); err != nil {
		return Outcome{}, fmt.Errorf("insert artifact: %w", err)
	}

	return Outcome{
		Result:       map[string]any{"artifact_id": art.ID, "url": target, "length": len(content)},
		EventKind:    "crawl_complete",
		EventTitle:   "Crawled: " + topic,
		EventSummary: cut(content, 200),
	}, nil
}
