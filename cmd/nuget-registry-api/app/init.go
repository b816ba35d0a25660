package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stacklok/nuget-registry-server/internal/config"
)

// initAnswers are the values collected by the init command.
type initAnswers struct {
	Host         string `survey:"host"`
	Port         string `survey:"port"`
	Tenant       string `survey:"tenant"`
	PackagesPath string `survey:"packagesPath"`
	RequireKey   bool   `survey:"requireKey"`
	APIKeys      string
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file interactively",
		Long: `Ask for the public host, port, tenant, packages directory and API keys,
then write a configuration file usable with "serve --config".

When API keys are required and none is entered, a random key is generated
and printed once.`,
		RunE: runInit,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "Path of the configuration file to write")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite it", output)
	}

	answers := initAnswers{}
	if err := survey.Ask(initQuestions(), &answers); err != nil {
		return fmt.Errorf("survey failed: %w", err)
	}
	if answers.RequireKey {
		keyPrompt := &survey.Input{
			Message: "Allowed API keys (comma separated, empty to generate one):",
		}
		if err := survey.AskOne(keyPrompt, &answers.APIKeys); err != nil {
			return fmt.Errorf("survey failed: %w", err)
		}
	}

	cfg, generated, err := buildInitConfig(answers)
	if err != nil {
		return err
	}
	if err := cfg.Save(output); err != nil {
		return err
	}

	color.Green("Configuration written to %s", output)
	if generated != "" {
		color.Yellow("Generated API key (store it now, it is not shown again): %s", generated)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Start the server with: nuget-registry-api serve --config %s\n", output)
	return nil
}

func initQuestions() []*survey.Question {
	return []*survey.Question{
		{
			Name:     "host",
			Prompt:   &survey.Input{Message: "Public host name:", Default: "localhost"},
			Validate: survey.Required,
		},
		{
			Name:     "port",
			Prompt:   &survey.Input{Message: "Public port:", Default: "5000"},
			Validate: validatePort,
		},
		{
			Name:     "tenant",
			Prompt:   &survey.Input{Message: "Tenant (first path segment):", Default: "default"},
			Validate: survey.Required,
		},
		{
			Name:   "packagesPath",
			Prompt: &survey.Input{Message: "Packages directory:", Default: config.DefaultPackagesPath},
		},
		{
			Name:   "requireKey",
			Prompt: &survey.Confirm{Message: "Require an API key for every request?", Default: true},
		},
	}
}

func validatePort(ans interface{}) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("port must be text")
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}

// buildInitConfig turns the answers into a configuration. It returns the
// generated API key when one had to be created.
func buildInitConfig(a initAnswers) (*config.Config, string, error) {
	if err := validatePort(a.Port); err != nil {
		return nil, "", err
	}
	port, _ := strconv.Atoi(strings.TrimSpace(a.Port))

	tenant := strings.TrimSpace(a.Tenant)
	if tenant == "" || strings.ContainsAny(tenant, "/ \t") {
		return nil, "", fmt.Errorf("invalid tenant %q", a.Tenant)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:    ":" + strconv.Itoa(port),
			PublicHost: strings.TrimSpace(a.Host),
			PublicPort: port,
		},
		Tenants: config.TenantsConfig{Prefixes: []string{tenant}},
		Storage: config.StorageConfig{
			PackagesPath: strings.TrimSpace(a.PackagesPath),
			Mode:         config.StorageModeShared,
		},
		Auth: &config.AuthConfig{Mode: config.AuthModeAnonymous},
	}
	if cfg.Storage.PackagesPath == "" {
		cfg.Storage.PackagesPath = config.DefaultPackagesPath
	}

	if !a.RequireKey {
		return cfg, "", nil
	}

	var keys []string
	for _, k := range strings.Split(a.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	var generated string
	if len(keys) == 0 {
		generated = generateAPIKey()
		keys = []string{generated}
	}
	cfg.Auth = &config.AuthConfig{Mode: config.AuthModeAPIKey, APIKeys: keys}
	return cfg, generated, nil
}

// generateAPIKey returns 32 hex characters from a random UUID.
func generateAPIKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
