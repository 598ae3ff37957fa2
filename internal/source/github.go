// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// GitHub resolves a firmware asset from a GitHub release. Without a tag the
// latest release is used; without an asset name the unique asset whose
// filename implies the board type is picked, failing closed on ambiguity.
type GitHub struct {
	Repo      string // owner/repo
	Tag       string // empty means latest
	AssetName string // optional substring match
	Board     model.BoardType

	apiURL string
	token  string
	client *http.Client
	dl     *downloader
}

// githubRelease mirrors the subset of the GitHub release API we consume.
type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// NewGitHub returns a resolver for a GitHub release asset.
func NewGitHub(cfg config.Config, repo, tag, assetName string, board model.BoardType) *GitHub {
	return &GitHub{
		Repo:      repo,
		Tag:       tag,
		AssetName: assetName,
		Board:     board,
		apiURL:    strings.TrimRight(cfg.GitHub.APIURL, "/"),
		token:     cfg.GitHub.Token,
		client:    &http.Client{Timeout: 30 * time.Second},
		dl:        newDownloader(cfg),
	}
}

// Resolve looks up the release, selects the asset and downloads it like a
// direct URL.
func (g *GitHub) Resolve(ctx context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error) {
	owner, repo, err := splitRepo(g.Repo)
	if err != nil {
		return nil, err
	}

	progress.Emit(i18n.T("source.github_release", g.Repo))

	releaseURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.apiURL, owner, repo)
	if g.Tag != "" {
		releaseURL = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", g.apiURL, owner, repo, g.Tag)
	}

	var release githubRelease
	if err := g.getJSON(ctx, releaseURL, &release); err != nil {
		return nil, err
	}

	asset, err := pickAsset(release.Assets, g.AssetName, g.Board, release.TagName)
	if err != nil {
		return nil, err
	}

	f, err := g.dl.fetch(ctx, asset.BrowserDownloadURL, g.token, asset.Name, progress)
	if err != nil {
		return nil, err
	}

	return &model.FirmwareEntry{
		ID:             entryID(f.SHA256),
		Name:           asset.Name,
		Version:        release.TagName,
		Board:          g.Board,
		FilePath:       f.Path,
		ChecksumSHA256: f.SHA256,
		SizeBytes:      f.SizeBytes,
		Source:         model.SourceGitHub,
		SourceMetadata: map[string]string{
			"repository":   g.Repo,
			"tag":          release.TagName,
			"asset":        asset.Name,
			"download_url": asset.BrowserDownloadURL,
		},
		AddedAt: time.Now().UTC(),
	}, nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (g *GitHub) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", ErrDownload,
			i18n.T("source.error_download", url, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body)))))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// splitRepo validates the "owner/repo" form.
func splitRepo(repo string) (string, string, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoFormat, i18n.T("source.error_repo_format", repo))
	}
	return parts[0], parts[1], nil
}

// pickAsset chooses the release asset to download. An explicit name wins by
// substring match; otherwise exactly one asset must carry an accepted
// firmware extension and imply the board type by name. Zero or multiple
// candidates fail closed rather than guessing a priority order.
func pickAsset(assets []githubAsset, assetName string, board model.BoardType, tag string) (*githubAsset, error) {
	if assetName != "" {
		for i := range assets {
			if strings.Contains(assets[i].Name, assetName) {
				return &assets[i], nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSuitableAsset, i18n.T("source.error_no_asset", board, tag))
	}

	var candidates []*githubAsset
	for i := range assets {
		ext := strings.ToLower(filepath.Ext(assets[i].Name))
		if board.AcceptsExtension(ext) && board.ImpliedBy(assets[i].Name) {
			candidates = append(candidates, &assets[i])
		}
	}
	if len(candidates) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuitableAsset, i18n.T("source.error_no_asset", board, tag))
	}
	return candidates[0], nil
}
