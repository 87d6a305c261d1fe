// Package setup implements the interactive configuration wizard.
package setup

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/perptrack/perptrack/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and writes the resulting
// yaml config.
func RunTUI() error {
	asset := config.DefaultAsset
	dataDir := config.DefaultDataDir
	listenAddr := config.DefaultListenAddr
	authToken := ""
	configPath := "config.yaml"
	confirm := false

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("PERPTRACK CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Track your realised futures performance.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ACCOUNT"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Settlement Asset").
				Description("The asset whose income events are tracked (e.g. USDT)").
				Value(&asset).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("asset cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("PERPTRACK CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: STORAGE & SERVER"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data Directory").
				Description("Where the ledger WAL and state files live").
				Value(&dataDir),
			huh.NewInput().
				Title("Listen Address").
				Description("HTTP listen address of the API (e.g. :8080)").
				Value(&listenAddr),
			huh.NewInput().
				Title("API Auth Token").
				Description("Bearer token required on API calls; empty disables auth").
				Value(&authToken),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("PERPTRACK CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: SAVE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Config Path").
				Value(&configPath),
			huh.NewConfirm().
				Title("Write configuration?").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		fmt.Println("Aborted, nothing written.")
		return nil
	}

	cfg := config.Config{
		Asset:      asset,
		DataDir:    dataDir,
		ListenAddr: listenAddr,
		AuthToken:  authToken,
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render("Config written to " + configPath))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).
		Render("Remember to export BINANCE_API_KEY and BINANCE_API_SECRET before starting."))
	return nil
}
