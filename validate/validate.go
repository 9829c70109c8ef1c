// Command validate checks battle map preset JSON files before they are
// deployed to a table server's config directory. It checks:
//   - JSON structure and required fields
//   - Preset ids derived from file names are safe
//   - Token ids are unique and positions are not negative
//   - Tokens stacked on the same spot (reported, not fatal)
//   - Local map images exist when a static directory is given
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/dungeondweller/game/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

// validatePreset loads and validates a single preset file. staticDir may be
// empty, which skips the map image check.
func validatePreset(filePath, staticDir string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	id := strings.TrimSuffix(result.File, ".json")
	if err := config.ValidatePresetID(id); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	var preset config.Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	if err := config.ValidatePreset(&preset); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	if staticDir != "" && isLocalPath(preset.MapImage) {
		imagePath := filepath.Join(staticDir, filepath.FromSlash(strings.TrimPrefix(preset.MapImage, "/")))
		if _, err := os.Stat(imagePath); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Map image not found: %s", imagePath))
		}
	}

	if !result.Valid {
		return result
	}

	// Add informational data
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Name: %s", preset.Name))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Map: %s", preset.MapImage))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Tokens: %d", len(preset.Tokens)))
	for _, stack := range stackedTokens(preset.Tokens) {
		result.Errors = append(result.Errors, "⚠ Stacked: "+stack)
	}

	return result
}

// stackedTokens lists positions holding more than one token, in token order.
func stackedTokens(tokens []config.Token) []string {
	type point struct{ left, top int }

	byPoint := make(map[point][]string)
	var order []point
	for _, tok := range tokens {
		p := point{tok.Left, tok.Top}
		if _, ok := byPoint[p]; !ok {
			order = append(order, p)
		}
		label := tok.Alt
		if label == "" {
			label = fmt.Sprintf("#%d", tok.ID)
		}
		byPoint[p] = append(byPoint[p], label)
	}

	var stacks []string
	for _, p := range order {
		if names := byPoint[p]; len(names) > 1 {
			stacks = append(stacks, fmt.Sprintf("%s at (%d,%d)", strings.Join(names, ", "), p.left, p.top))
		}
	}
	return stacks
}

func isLocalPath(src string) bool {
	return src != "" && !strings.Contains(src, "://") && !strings.HasPrefix(src, "data:")
}

// validateDir validates every *.json file in dir and prints a report. It
// returns an error when any preset is invalid.
func validateDir(dir, staticDir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("error finding preset files: %w", err)
	}
	if len(files) == 0 {
		fmt.Printf("No presets found in %s\n", dir)
		return nil
	}

	allValid := true
	for _, file := range files {
		result := validatePreset(file, staticDir)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if !allValid {
		fmt.Println("❌ Some presets have errors")
		return cli.Exit("", 1)
	}
	fmt.Println("✅ All presets are valid!")
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:      "validate",
		Usage:     "check battle map presets",
		ArgsUsage: "[config-dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "static-dir", Usage: "Directory that serves map images", Sources: cli.EnvVars("STATIC_DIR")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				dir = "../configs"
			}
			return validateDir(dir, cmd.String("static-dir"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
