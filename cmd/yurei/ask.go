package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/orchestrator"
	"github.com/mohammad-safakhou/yurei/internal/stream"
)

func askCmd(cfgPath *string) *cobra.Command {
	var domainID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one search in-process and print NDJSON frames to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is empty")
			}
			out := a.orch.Run(cmd.Context(), orchestrator.Request{
				ID:       uuid.NewString(),
				Domain:   domainID,
				Messages: []llm.Message{{Role: llm.RoleUser, Content: question}},
			}, stream.NewWriter(os.Stdout))
			if out.State == orchestrator.StateAborted {
				return fmt.Errorf("search aborted: %w", out.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&domainID, "domain", "d", "", "domain to search (youtube, reddit, linkedin, hackernews)")
	return cmd
}
