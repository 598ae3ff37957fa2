// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kumulus-tools/boardflash/internal/model"
	"github.com/kumulus-tools/boardflash/internal/source"
)

// addSourceFlags registers the firmware source flags shared by 'flash' and
// 'registry add'.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "Local firmware file path")
	cmd.Flags().String("url", "", "Direct firmware download URL")
	cmd.Flags().String("github", "", "GitHub repository in the form owner/repo")
	cmd.Flags().String("tag", "", "Release tag (defaults to the latest release)")
	cmd.Flags().String("asset", "", "Release asset name to pick")
	cmd.Flags().Int("gitlab-project", 0, "GitLab project id")
	cmd.Flags().String("job", "", "GitLab job name to pick")
	cmd.Flags().String("sftp", "", "Firmware URL in the form sftp://user@host/path")
	cmd.Flags().String("name", "", "Firmware name")
	cmd.Flags().String("fw-version", "", "Firmware version label")
	cmd.Flags().Bool("prompt-token", false, "Prompt for the API token instead of reading it from the config")
}

// resolverFromFlags builds the source resolver selected by the flags, or nil
// when no source flag was given.
func resolverFromFlags(cmd *cobra.Command, board model.BoardType) (source.Resolver, error) {
	cfg := appConfig

	name, _ := cmd.Flags().GetString("name")
	fwVersion, _ := cmd.Flags().GetString("fw-version")

	if prompt, _ := cmd.Flags().GetBool("prompt-token"); prompt {
		token, err := promptToken()
		if err != nil {
			return nil, err
		}
		cfg.GitHub.Token = token
		cfg.GitLab.Token = token
	}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		return source.NewLocal(file, name, fwVersion, board), nil
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		return source.NewURL(cfg, url, name, fwVersion, board), nil
	}
	if repo, _ := cmd.Flags().GetString("github"); repo != "" {
		tag, _ := cmd.Flags().GetString("tag")
		asset, _ := cmd.Flags().GetString("asset")
		return source.NewGitHub(cfg, repo, tag, asset, board), nil
	}
	if project, _ := cmd.Flags().GetInt("gitlab-project"); project != 0 {
		job, _ := cmd.Flags().GetString("job")
		return source.NewGitLab(cfg, project, job, board), nil
	}
	if sftpURL, _ := cmd.Flags().GetString("sftp"); sftpURL != "" {
		return source.NewSFTP(cfg, sftpURL, name, fwVersion, board), nil
	}
	return nil, nil
}

// promptToken reads an API token from the terminal without echoing it.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("could not read token: %w", err)
	}
	return string(raw), nil
}
