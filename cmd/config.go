package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cobridge/cobridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the protocol bridge configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("%s Configuration Setup", AppName)
	color.Yellow("Follow the prompts to configure your backend providers.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nProvider Name (e.g., openrouter, openai): ")
	providerName, _ := reader.ReadString('\n')
	providerName = strings.TrimSpace(providerName)

	fmt.Print("API Key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("API Base URL (chat completions endpoint): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Default Model: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("Bridge API Key (optional, for authentication): ")
	bridgeAPIKey, _ := reader.ReadString('\n')
	bridgeAPIKey = strings.TrimSpace(bridgeAPIKey)

	backend := fmt.Sprintf("%s,%s", providerName, model)

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: bridgeAPIKey,
		Providers: []config.Provider{
			{
				Name:    providerName,
				APIBase: baseURL,
				APIKey:  apiKey,
			},
		},
		Router: config.RouterConfig{
			// All three tiers start on the same backend; edit the file to
			// split them across models.
			Big:     backend,
			Middle:  backend,
			Small:   backend,
			Default: backend,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the bridge with: cob start")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'cob config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nProviders:")
	for _, provider := range cfg.Providers {
		fmt.Printf("  - Name: %s\n", provider.Name)
		fmt.Printf("    API Base: %s\n", provider.APIBase)
		fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		fmt.Println()
	}

	fmt.Println("Router Tiers:")
	if cfg.Router.Big != "" {
		fmt.Printf("  %-15s: %s\n", "Big", cfg.Router.Big)
	}
	if cfg.Router.Middle != "" {
		fmt.Printf("  %-15s: %s\n", "Middle", cfg.Router.Middle)
	}
	if cfg.Router.Small != "" {
		fmt.Printf("  %-15s: %s\n", "Small", cfg.Router.Small)
	}
	if cfg.Router.Default != "" {
		fmt.Printf("  %-15s: %s\n", "Default", cfg.Router.Default)
	}

	fmt.Println("\nLimits:")
	fmt.Printf("  %-15s: %d\n", "Min Tokens", cfg.Limits.MinTokens)
	fmt.Printf("  %-15s: %d\n", "Max Tokens", cfg.Limits.MaxTokens)
	fmt.Printf("  %-15s: %d chars\n", "Tool Output", cfg.ToolOutput.MaxChars)

	if cfg.Reasoning.DefaultEffort != "" {
		fmt.Printf("  %-15s: %s\n", "Default Effort", cfg.Reasoning.DefaultEffort)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if len(cfg.Providers) == 0 {
		problems = append(problems, "no providers configured")
	}

	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			problems = append(problems, fmt.Sprintf("provider %d: name is required", i))
		}
		if provider.APIBase == "" {
			problems = append(problems, fmt.Sprintf("provider %d: API base URL is required", i))
		}
		if provider.APIKey == "" {
			problems = append(problems, fmt.Sprintf("provider %d: API key is required", i))
		}
	}

	// Every routed tier must point at a configured provider.
	for tier, backend := range map[string]string{
		"big":     cfg.Router.Big,
		"middle":  cfg.Router.Middle,
		"small":   cfg.Router.Small,
		"default": cfg.Router.Default,
	} {
		if backend == "" {
			continue
		}

		parts := strings.SplitN(backend, ",", 2)
		if len(parts) != 2 {
			problems = append(problems, fmt.Sprintf("router.%s: %q is not in provider,model form", tier, backend))
			continue
		}

		if _, ok := cfg.FindProvider(parts[0]); !ok {
			problems = append(problems, fmt.Sprintf("router.%s: provider %q not configured", tier, parts[0]))
		}
	}

	if cfg.Router.Default == "" {
		problems = append(problems, "default backend is required")
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
