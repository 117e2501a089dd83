package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

// PublisherConfig holds release publication configuration.
type PublisherConfig struct {
	// Owner and Repo identify the repository releases are published to.
	Owner string
	Repo  string
	// ChangelogPath is the changelog file attached as the release body.
	ChangelogPath string
	// SectionOnly restricts the body to the released version's section
	// instead of the whole changelog.
	SectionOnly bool
}

// Publisher creates the release for a finished run: it verifies the artifact
// set, creates the release with the changelog body, and attaches every
// archive. Publication is all or nothing; any failure rolls the release back.
type Publisher struct {
	cfg     *PublisherConfig
	store   store.Store
	storage artifacts.Storage
	client  *Client
	logger  *slog.Logger
}

// NewPublisher creates a release publisher.
func NewPublisher(cfg *PublisherConfig, s store.Store, storage artifacts.Storage, client *Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:     cfg,
		store:   s,
		storage: storage,
		client:  client,
		logger:  logger,
	}
}

// Publish publishes the release for a run. expectedArchives is the full set
// of archive names the pipeline matrix produces; the run's artifacts must
// match it exactly, no more and no less.
func (p *Publisher) Publish(ctx context.Context, run *models.Run, expectedArchives []string) (*models.Release, error) {
	if !run.WantsRelease() {
		return nil, fmt.Errorf("run %s is not a tag-triggered run", run.ID)
	}

	arts, err := p.store.Artifacts().ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	if err := verifyArtifactSet(arts, expectedArchives); err != nil {
		return nil, err
	}

	body, err := p.releaseBody(run.Tag)
	if err != nil {
		return nil, err
	}

	tagName := "v" + run.Tag

	// A crash mid-publish can leave a release behind with some assets
	// missing. Remove it and publish from scratch so the attached set is
	// exactly the matrix's.
	existing, err := p.client.GetReleaseByTag(ctx, p.cfg.Owner, p.cfg.Repo, tagName)
	if err != nil {
		return nil, fmt.Errorf("checking for existing release: %w", err)
	}
	if existing != nil {
		if err := p.client.DeleteRelease(ctx, p.cfg.Owner, p.cfg.Repo, existing.ID); err != nil {
			return nil, fmt.Errorf("removing partial release: %w", err)
		}
		p.logger.Warn("removed partially published release",
			"tag", tagName, "release_id", existing.ID)
	}

	record, err := p.releaseRecord(ctx, run, tagName, body)
	if err != nil {
		return nil, err
	}

	ghRelease, err := p.client.CreateRelease(ctx, p.cfg.Owner, p.cfg.Repo, &CreateReleaseRequest{
		TagName: tagName,
		Name:    tagName,
		Body:    body,
	})
	if err != nil {
		p.failRelease(ctx, record, err)
		return nil, fmt.Errorf("creating release: %w", err)
	}

	p.logger.Info("created release",
		"tag", tagName,
		"url", ghRelease.HTMLURL,
		"assets", len(arts),
	)

	if err := p.uploadAssets(ctx, ghRelease, arts); err != nil {
		// A release missing assets is worse than no release.
		if delErr := p.client.DeleteRelease(ctx, p.cfg.Owner, p.cfg.Repo, ghRelease.ID); delErr != nil {
			p.logger.Error("failed to roll back partial release",
				"tag", tagName, "error", delErr)
		}
		p.failRelease(ctx, record, err)
		return nil, err
	}

	if err := p.store.Artifacts().MarkReleased(ctx, run.ID); err != nil {
		p.logger.Error("failed to mark artifacts released", "run_id", run.ID, "error", err)
	}

	now := time.Now().UTC()
	record.Status = models.ReleaseStatusPublished
	record.URL = ghRelease.HTMLURL
	record.AssetNames = artifactNames(arts)
	record.PublishedAt = &now
	if err := p.store.Releases().Update(ctx, record); err != nil {
		return nil, fmt.Errorf("updating release record: %w", err)
	}

	p.logger.Info("release published", "tag", tagName, "url", record.URL)
	return record, nil
}

// releaseRecord creates the release row for the run, or resets the row a
// previous interrupted attempt left behind.
func (p *Publisher) releaseRecord(ctx context.Context, run *models.Run, tagName, body string) (*models.Release, error) {
	record, err := p.store.Releases().GetByRun(ctx, run.ID)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			return nil, fmt.Errorf("loading release record: %w", err)
		}
		record = &models.Release{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			Tag:       run.Tag,
			Title:     tagName,
			Body:      body,
			Status:    models.ReleaseStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := p.store.Releases().Create(ctx, record); err != nil {
			return nil, fmt.Errorf("creating release record: %w", err)
		}
		return record, nil
	}

	record.Body = body
	record.Status = models.ReleaseStatusPending
	record.Error = ""
	if err := p.store.Releases().Update(ctx, record); err != nil {
		return nil, fmt.Errorf("resetting release record: %w", err)
	}
	return record, nil
}

// releaseBody reads the changelog and, if configured, extracts the released
// version's section. The text is attached without reformatting.
func (p *Publisher) releaseBody(version string) (string, error) {
	changelog, err := ReadChangelog(p.cfg.ChangelogPath)
	if err != nil {
		return "", err
	}
	if p.cfg.SectionOnly {
		return ExtractSection(changelog, version)
	}
	return changelog, nil
}

// uploadAssets attaches every archive to the release in name order.
func (p *Publisher) uploadAssets(ctx context.Context, rel *GitHubRelease, arts []*models.Artifact) error {
	sorted := make([]*models.Artifact, len(arts))
	copy(sorted, arts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, art := range sorted {
		r, err := p.storage.Get(ctx, art.Key)
		if err != nil {
			return fmt.Errorf("opening artifact %s: %w", art.Name, err)
		}

		err = p.client.UploadAsset(ctx, rel.UploadURL, art.Name, r, art.SizeBytes)
		r.Close()
		if err != nil {
			return fmt.Errorf("uploading asset %s: %w", art.Name, err)
		}

		p.logger.Info("attached release asset", "name", art.Name, "size_bytes", art.SizeBytes)
	}
	return nil
}

func (p *Publisher) failRelease(ctx context.Context, record *models.Release, cause error) {
	record.Status = models.ReleaseStatusFailed
	record.Error = cause.Error()
	if err := p.store.Releases().Update(ctx, record); err != nil {
		p.logger.Error("failed to update release record", "release_id", record.ID, "error", err)
	}
}

// verifyArtifactSet checks that the run produced exactly the expected
// archives: every expected name present, nothing extra, no duplicates.
func verifyArtifactSet(arts []*models.Artifact, expected []string) error {
	have := make(map[string]int, len(arts))
	for _, a := range arts {
		have[a.Name]++
	}

	for name, count := range have {
		if count > 1 {
			return fmt.Errorf("duplicate artifact %s (%d copies)", name, count)
		}
	}

	for _, name := range expected {
		if have[name] == 0 {
			return fmt.Errorf("missing artifact %s", name)
		}
		delete(have, name)
	}
	for name := range have {
		return fmt.Errorf("unexpected artifact %s", name)
	}

	return nil
}

func artifactNames(arts []*models.Artifact) []string {
	names := make([]string, 0, len(arts))
	for _, a := range arts {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}
