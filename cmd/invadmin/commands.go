package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMANDS
// =============================================================================

func newPreviewCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show misallocated transactions without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mismatches []mismatchRow
			if err := getJSON(*serverURL+"/api/admin/allocation-preview", &mismatches); err != nil {
				return err
			}

			if len(mismatches) == 0 {
				fmt.Println("All invoice allocations are consistent.")
				return nil
			}

			fmt.Printf("%d misallocated transaction(s):\n\n", len(mismatches))
			for _, m := range mismatches {
				fmt.Printf("  %s  %s  %s  (%s)\n", m.Date, m.Amount, m.Description, m.CardName)
				fmt.Printf("      %04d-%02d -> %04d-%02d\n", m.CurrentYear, m.CurrentMonth, m.CorrectYear, m.CorrectMonth)
			}
			fmt.Println("\nRun 'invadmin correct' to apply these corrections.")
			return nil
		},
	}
}

func newCorrectCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "correct",
		Short: "Apply all pending allocation corrections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Corrected int    `json:"corrected"`
				Total     int    `json:"total"`
				Message   string `json:"message"`
			}
			if err := postJSON(*serverURL+"/api/admin/allocation-correct", nil, &result); err != nil {
				return err
			}

			fmt.Println(result.Message)
			return nil
		},
	}
}

func newOrphansCommand(serverURL *string) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Correct orphaned purchases batch by batch until none remain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var count struct {
				OrphanCount int `json:"orphan_count"`
			}
			if err := getJSON(*serverURL+"/api/admin/orphan-count", &count); err != nil {
				return err
			}

			if count.OrphanCount == 0 {
				fmt.Println("No orphaned transactions found.")
				return nil
			}
			fmt.Printf("Correcting %d orphaned transaction(s) in batches of %d...\n", count.OrphanCount, batchSize)

			// Sequential loop: each batch completes before the next starts.
			corrected := 0
			for {
				var batch struct {
					Corrected int  `json:"corrected"`
					HasMore   bool `json:"has_more"`
				}
				if err := postJSON(*serverURL+"/api/admin/orphan-correct",
					map[string]int{"batch_size": batchSize}, &batch); err != nil {
					return fmt.Errorf("after %d corrected: %w", corrected, err)
				}

				corrected += batch.Corrected
				progress := 100 * corrected / count.OrphanCount
				if progress > 100 {
					progress = 100
				}
				fmt.Printf("  %d corrected (%d%%)\n", corrected, progress)

				if !batch.HasMore {
					break
				}
			}

			fmt.Printf("Done: %d orphaned transaction(s) corrected.\n", corrected)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "transactions corrected per request")
	return cmd
}

func newValidateCommand(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Recompute cached invoice totals from transaction data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report struct {
				Cards []struct {
					CardName        string `json:"card_name"`
					PreviousValue   string `json:"previous_value"`
					NewValue        string `json:"new_value"`
					NeedsCorrection bool   `json:"needs_correction"`
				} `json:"cards"`
				TotalCorrected int `json:"total_corrected"`
			}
			if err := postJSON(*serverURL+"/api/admin/validate-invoices", nil, &report); err != nil {
				return err
			}

			for _, c := range report.Cards {
				if c.NeedsCorrection {
					fmt.Printf("  %s: %s -> %s\n", c.CardName, c.PreviousValue, c.NewValue)
				} else {
					fmt.Printf("  %s: ok (%s)\n", c.CardName, c.NewValue)
				}
			}
			fmt.Printf("%d card(s) corrected.\n", report.TotalCorrected)
			return nil
		},
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

type mismatchRow struct {
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
	CardName     string `json:"card_name"`
	CurrentMonth int    `json:"current_month"`
	CurrentYear  int    `json:"current_year"`
	CorrectMonth int    `json:"correct_month"`
	CorrectYear  int    `json:"correct_year"`
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func postJSON(url string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	resp, err := httpClient.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
