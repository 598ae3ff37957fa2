// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// GitLab resolves a firmware image from the artifact archive of the most
// recent successful pipeline of a project. Job selection mirrors asset
// selection on GitHub: an explicit job name wins, otherwise exactly one job
// must imply the board type, and ambiguity fails closed.
type GitLab struct {
	ProjectID int
	JobName   string // optional substring match
	Board     model.BoardType

	apiURL string
	token  string
	client *http.Client
	dl     *downloader
	dir    string
}

type gitlabPipeline struct {
	ID  int    `json:"id"`
	Ref string `json:"ref"`
}

type gitlabJob struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	ArtifactsFile struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"artifacts_file"`
}

// NewGitLab returns a resolver for a GitLab pipeline artifact.
func NewGitLab(cfg config.Config, projectID int, jobName string, board model.BoardType) *GitLab {
	return &GitLab{
		ProjectID: projectID,
		JobName:   jobName,
		Board:     board,
		apiURL:    strings.TrimRight(cfg.GitLab.APIURL, "/"),
		token:     cfg.GitLab.Token,
		client:    &http.Client{Timeout: 30 * time.Second},
		dl:        newDownloader(cfg),
		dir:       cfg.DownloadsDir,
	}
}

// Resolve finds the newest successful pipeline, picks the artifact job,
// downloads the archive and extracts the firmware file into the cache.
func (g *GitLab) Resolve(ctx context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error) {
	progress.Emit(i18n.T("source.gitlab_pipeline", g.ProjectID))

	pipelinesURL := fmt.Sprintf("%s/projects/%d/pipelines?status=success&per_page=1", g.apiURL, g.ProjectID)
	var pipelines []gitlabPipeline
	if err := g.getJSON(ctx, pipelinesURL, &pipelines); err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuccessfulPipeline, i18n.T("source.error_no_pipeline", g.ProjectID))
	}
	pipeline := pipelines[0]

	jobsURL := fmt.Sprintf("%s/projects/%d/pipelines/%d/jobs", g.apiURL, g.ProjectID, pipeline.ID)
	var jobs []gitlabJob
	if err := g.getJSON(ctx, jobsURL, &jobs); err != nil {
		return nil, err
	}

	job, err := g.pickJob(jobs, pipeline.ID)
	if err != nil {
		return nil, err
	}

	archiveURL := fmt.Sprintf("%s/projects/%d/jobs/%d/artifacts", g.apiURL, g.ProjectID, job.ID)
	archive, err := g.dl.fetch(ctx, archiveURL, g.token, job.ArtifactsFile.Filename, progress)
	if err != nil {
		return nil, err
	}
	// The archive itself never stays in the cache, only the extracted image.
	defer func() { _ = os.Remove(archive.Path) }()

	fwPath, sum, size, err := g.extractFirmware(archive.Path)
	if err != nil {
		return nil, err
	}

	return &model.FirmwareEntry{
		ID:             entryID(sum),
		Name:           filepath.Base(fwPath),
		Version:        pipeline.Ref,
		Board:          g.Board,
		FilePath:       fwPath,
		ChecksumSHA256: sum,
		SizeBytes:      size,
		Source:         model.SourceGitLab,
		SourceMetadata: map[string]string{
			"project_id": fmt.Sprintf("%d", g.ProjectID),
			"pipeline":   fmt.Sprintf("%d", pipeline.ID),
			"job":        job.Name,
			"ref":        pipeline.Ref,
		},
		AddedAt: time.Now().UTC(),
	}, nil
}

// pickJob selects the artifact job for the board, failing closed when the
// choice is ambiguous.
func (g *GitLab) pickJob(jobs []gitlabJob, pipelineID int) (*gitlabJob, error) {
	var candidates []*gitlabJob
	for i := range jobs {
		j := &jobs[i]
		if j.Status != "success" || j.ArtifactsFile.Filename == "" {
			continue
		}
		if g.JobName != "" {
			if strings.Contains(j.Name, g.JobName) {
				candidates = append(candidates, j)
			}
			continue
		}
		if g.Board.ImpliedBy(j.Name) || g.Board.ImpliedBy(j.ArtifactsFile.Filename) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuitableJob, i18n.T("source.error_no_job", g.Board, pipelineID))
	}
	return candidates[0], nil
}

// extractFirmware pulls the firmware file out of the artifact zip and places
// it in the cache under its content hash. Exactly one member may qualify:
// preferred are members implying the board type, falling back to the single
// member with an accepted extension.
func (g *GitLab) extractFirmware(archivePath string) (string, string, uint64, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: artifact archive unreadable: %v", ErrNoSuitableJob, err)
	}
	defer r.Close()

	var accepted, implied []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if !g.Board.AcceptsExtension(ext) {
			continue
		}
		accepted = append(accepted, f)
		if g.Board.ImpliedBy(path.Base(f.Name)) {
			implied = append(implied, f)
		}
	}

	pick := implied
	if len(pick) == 0 {
		pick = accepted
	}
	if len(pick) != 1 {
		return "", "", 0, fmt.Errorf("%w: %d firmware candidates in artifact archive", ErrNoSuitableAsset, len(pick))
	}
	member := pick[0]

	rc, err := member.Open()
	if err != nil {
		return "", "", 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(g.dir, "extract-*.part")
	if err != nil {
		return "", "", 0, err
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", "", 0, err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := filepath.Join(g.dir, sum+strings.ToLower(path.Ext(member.Name)))
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", 0, err
	}

	logging.Debugf("gitlab: extracted %s (%d bytes) from artifact archive", member.Name, n)
	return final, sum, uint64(n), nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (g *GitLab) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrDownload,
			i18n.T("source.error_download", url, fmt.Errorf("unexpected status %s", resp.Status)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
