package app

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
)

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <nuspec>",
		Short: "Build a package archive from a nuspec file",
		Long: `Build <id>.<version>.nupkg from a nuspec file. Every file under the
content directory (the nuspec's directory by default) is added to the archive
at its relative path, except the nuspec itself.`,
		Args: cobra.ExactArgs(1),
		RunE: runPack,
	}
	cmd.Flags().String("content", "", "Directory whose files are packed (defaults to the nuspec's directory)")
	cmd.Flags().StringP("output", "o", ".", "Directory the archive is written to")
	return cmd
}

func runPack(cmd *cobra.Command, args []string) error {
	contentDir, err := cmd.Flags().GetString("content")
	if err != nil {
		return err
	}
	outputDir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	path, err := packFile(args[0], contentDir, outputDir)
	if err != nil {
		return err
	}
	color.Green("Package written to %s", path)
	return nil
}

// packFile builds the archive described by nuspecPath and returns where it was written.
func packFile(nuspecPath, contentDir, outputDir string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(nuspecPath))
	if err != nil {
		return "", fmt.Errorf("failed to read nuspec: %w", err)
	}
	m, err := nuspec.Parse(data)
	if err != nil {
		return "", err
	}

	if contentDir == "" {
		contentDir = filepath.Dir(nuspecPath)
	}
	files, err := collectContent(contentDir, nuspecPath)
	if err != nil {
		return "", err
	}
	if m.Icon != "" {
		if _, ok := files[filepath.ToSlash(m.Icon)]; !ok {
			return "", fmt.Errorf("icon %s declared in the nuspec is not in %s", m.Icon, contentDir)
		}
	}

	archive, err := nupkg.Build(m, files)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	out := filepath.Join(outputDir, strings.ToLower(m.Name+"."+m.Version)+".nupkg")
	if err := os.WriteFile(out, archive, 0o600); err != nil {
		return "", fmt.Errorf("failed to write package: %w", err)
	}
	return out, nil
}

// collectContent reads every regular file under dir, keyed by slash-separated
// relative path. The nuspec and existing archives are skipped.
func collectContent(dir, nuspecPath string) (map[string][]byte, error) {
	skip, err := filepath.Abs(nuspecPath)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.EqualFold(filepath.Ext(path), ".nupkg") {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && abs == skip {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect package content: %w", err)
	}
	return files, nil
}
