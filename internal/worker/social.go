package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentops/internal/domain"
	"agentops/internal/repo"
	"agentops/internal/social"
)

const maxPostLength = 300

// PostSocial publishes a post and records it in the social post ledger the
// daily quota gate counts against.
type PostSocial struct {
	Repo   repo.Repo
	Client *social.Client
	Now    func() time.Time
}

func (h PostSocial) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h PostSocial) Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error) {
	text := stringField(step.Payload, "text", "content")
	if text == "" {
		text = mission.Title
	}
	// Reject before touching the network so the quota ledger stays clean.
	if strings.TrimSpace(text) == "" {
		return Outcome{}, errors.New("empty post text")
	}
	text = cut(text, maxPostLength)

	if err := h.Client.Login(ctx); err != nil {
		return Outcome{}, err
	}
	posted, err := h.Client.Post(ctx, text, h.now())
	if err != nil {
		return Outcome{}, err
	}

	ledger := domain.SocialPost{
		ID:       uuid.New().String(),
		StepID:   step.ID,
		AgentID:  mission.CreatedBy,
		PostURI:  posted.URI,
		PostCID:  posted.CID,
		Content:  text,
		PostedAt: h.now().UTC().Format(time.RFC3339),
	}
	if err := h.Repo.InsertSocialPost(ctx, ledger); err != nil {
		return Outcome{}, fmt.Errorf("record social post: %w", err)
	}

	return Outcome{
		Result:       map[string]any{"uri": posted.URI, "cid": posted.CID},
		EventKind:    "post_social_complete",
		EventTitle:   "Posted to Bluesky",
		EventSummary: cut(text, 100),
	}, nil
}

// ScanSocial reads the author feed and/or mentions and stores a markdown
// digest artifact.
type ScanSocial struct {
	Repo   repo.Repo
	Client *social.Client
	Now    func() time.Time
}

func (h ScanSocial) nowStr() string {
	if h.Now != nil {
		return h.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (h ScanSocial) Execute(ctx context.Context, step domain.Step, mission domain.Mission) (Outcome, error) {
	mode := stringField(step.Payload, "mode")
	if mode == "" {
		mode = "feed"
	}

	if err := h.Client.Login(ctx); err != nil {
		return Outcome{}, err
	}

	var sections []string
	if mode == "feed" || mode == "both" {
		feed, err := h.Client.AuthorFeed(ctx, 25)
		if err != nil {
			return Outcome{}, err
		}
		var posts []string
		for _, p := range feed {
			posts = append(posts, social.FormatFeedPost(p))
		}
		sections = append(sections, "# Author feed (our posts)\n\n"+strings.Join(posts, "\n"))
	}
	if mode == "mentions" || mode == "both" {
		mentions, err := h.Client.Mentions(ctx, 50)
		if err != nil {
			return Outcome{}, err
		}
		var notes []string
		for _, n := range mentions {
			notes = append(notes, social.FormatNotification(n))
		}
		sections = append(sections, "# Mentions & replies\n\n"+strings.Join(notes, "\n"))
	}

	content := strings.Join(sections, "\n---\n\n")
	stored := content
	if stored == "" {
		stored = "(no items)"
	}

	now := h.nowStr()
	missionID := step.MissionID
	stepID := step.ID
	art := domain.Artifact{
		ID:        uuid.New().String(),
		Title:     cut("Bluesky scan: "+mode, 200),
		Content:   stored,
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
		Result:       map[string]any{"artifact_id": art.ID, "mode": mode},
		EventKind:    "scan_social_complete",
		EventTitle:   "Scanned Bluesky: " + mode,
		EventSummary: cut(content, 150),
	}, nil
}
