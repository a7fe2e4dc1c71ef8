package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
)

var (
	searchBrand     string
	searchCountries []string
	searchOutput    string
)

var searchCmd = &cobra.Command{
	Use:   "search <molecule>",
	Short: "Run one pipeline and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(searchOutput); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := newLogger(cfg, os.Stderr)

		a, err := buildApp(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.Search(cmd.Context(), pipeline.Request{
			MoleculeName:    args[0],
			BrandName:       searchBrand,
			TargetCountries: searchCountries,
		})
		if err != nil {
			return err
		}

		return writeResult(cmd.OutOrStdout(), res, searchOutput)
	},
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// writeResult prints res. YAML goes through JSON first so field names match
// the API.
func writeResult(w io.Writer, res *pipeline.Result, format string) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if strings.ToLower(format) == "json" {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return enc.Close()
}

func init() {
	searchCmd.Flags().StringVarP(&searchBrand, "brand", "b", "", "brand name")
	searchCmd.Flags().StringSliceVar(&searchCountries, "countries", nil, "target countries (default from config)")
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", "json", "output format: json or yaml")
}
