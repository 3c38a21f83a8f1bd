// cmd/pipectl/commands.go
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Corphon/ShotPipelineMCP/internal/auth"
	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
)

func newIngestCmd(opts *cliOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a model-generated fragment file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			// 从标准输入读取文件时无法再交互确认
			interactive := args[0] != "-"
			confirm := func(summary models.BackupSummary) bool {
				if yes {
					return true
				}
				if !interactive {
					return false
				}
				return askConfirm(cmd, summary)
			}

			result, ingestErr := a.Pipeline.Ingest(cmd.Context(), opts.project, text, services.IngestOptions{
				Source:  "cli",
				Confirm: confirm,
			})
			printResult(cmd.OutOrStdout(), result)
			if ingestErr != nil {
				return ingestErr
			}
			if result.RequiresConfirmation {
				return fmt.Errorf("完整备份未确认，项目未改动（使用 --yes 跳过确认）")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm full-backup replacement without prompting")
	return cmd
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("读取标准输入失败: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return string(data), nil
}

// askConfirm 打印备份摘要并读取 y/N
func askConfirm(cmd *cobra.Command, summary models.BackupSummary) bool {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, boxStyle.Render(strings.Join([]string{
		warningStyle.Render("完整备份将替换当前项目"),
		row("project", summary.ProjectName),
		row("exported_at", summary.ExportedAt),
		row("sequences", fmt.Sprint(summary.SequenceCount)),
		row("scenes", fmt.Sprint(summary.SceneCount)),
		row("shots", fmt.Sprint(summary.ShotCount)),
	}, "\n")))
	fmt.Fprint(out, "继续? [y/N] ")

	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printResult(w io.Writer, result *models.IngestResult) {
	if result == nil {
		return
	}
	lines := []string{
		titleStyle.Render("Ingest " + result.IngestID),
		row("project", result.Project),
		row("stage", string(result.StageTag)),
		row("status", statusStyle(result.Status).Render(string(result.Status))),
		row("merged", fmt.Sprint(result.MergedCount)),
	}
	if result.WasFixed {
		lines = append(lines, row("repairs", strings.Join(result.Repairs, ", ")))
	}
	if len(result.MissingReferences) > 0 {
		lines = append(lines, row("missing", warningStyle.Render(strings.Join(result.MissingReferences, ", "))))
	}
	if len(result.SlotFallbacks) > 0 {
		lines = append(lines, row("slot fallbacks", strings.Join(result.SlotFallbacks, ", ")))
	}
	if result.Error != nil {
		msg := result.Error.Message
		if result.Error.Line > 0 {
			msg = fmt.Sprintf("%s (line %d, column %d)", msg, result.Error.Line, result.Error.Column)
		}
		lines = append(lines, row("error", errorStyle.Render(result.Error.Code)+" "+msg))
	} else if result.Message != "" {
		lines = append(lines, row("message", result.Message))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func newShowCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Summarize the project document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.Pipeline.Document(cmd.Context(), opts.project)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			if doc.IsEmpty() {
				fmt.Fprintln(out, mutedStyle.Render("项目 "+storage.Slug(opts.project)+" 为空"))
				return nil
			}
			stats, err := a.Stats.ProjectStats(cmd.Context(), opts.project)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderDocument(stats, doc))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full document as JSON")
	return cmd
}

// renderDocument 按 序列 → 场景 → 镜头 打印结构树
func renderDocument(stats *services.ProjectStats, doc *models.ProductionDocument) string {
	b := doc.Breakdown
	cov := stats.Coverage
	header := []string{
		titleStyle.Render(stats.Project),
		row("title", doc.Metadata.Title),
		row("schema", doc.Metadata.SchemaVersion),
		row("backbone", fmt.Sprint(doc.HasStructuralBackbone)),
		row("counts", fmt.Sprintf("%d sequences, %d scenes, %d shots", stats.Sequences, stats.Scenes, stats.Shots)),
		row("coverage", fmt.Sprintf("prompts %d/%d, images %d/%d, videos %d/%d, audio %d/%d",
			cov.ImagePrompts, stats.Shots, cov.GeneratedImages, stats.Shots, cov.VideoURLs, stats.Shots, cov.Audio, stats.Shots)),
	}
	if len(stats.OrphanShots) > 0 {
		header = append(header, row("orphan shots", warningStyle.Render(strings.Join(stats.OrphanShots, ", "))))
	}

	var tree []string
	for _, seq := range b.Sequences {
		tree = append(tree, successStyle.Render(seq.ID)+" "+seq.Title)
		for _, scene := range b.Scenes {
			if scene.SequenceID != seq.ID {
				continue
			}
			tree = append(tree, "  "+scene.ID+" "+mutedStyle.Render(scene.Title))
			for _, shotID := range scene.ShotIDs {
				idx := doc.ShotIndex(shotID)
				if idx < 0 {
					tree = append(tree, "    "+errorStyle.Render(shotID+" (missing)"))
					continue
				}
				tree = append(tree, "    "+shotID+" "+mutedStyle.Render(shotAssets(b.Shots[idx])))
			}
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(strings.Join(header, "\n")),
		strings.Join(tree, "\n"),
	)
}

func shotAssets(shot models.Shot) string {
	images := 0
	for _, slots := range shot.ImageDesign.AIGeneratedImages {
		for _, slot := range slots {
			if slot.URL != "" {
				images++
			}
		}
	}
	return fmt.Sprintf("[%d prompts, %d images, %d videos]", len(shot.ImagePrompts), images, len(shot.VideoURLs))
}

func newExportCmd(opts *cliOptions) *cobra.Command {
	var backupType, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a full or URL-only backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			envelope, err := a.Export.Export(cmd.Context(), opts.project, backupType)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(envelope, "", "  ")
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("写入导出文件失败: %w", err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), successStyle.Render("已导出 ")+output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&backupType, "type", "t", "full", "backup type: full or urls")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newResetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the project document and all of its caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Pipeline.Reset(cmd.Context(), opts.project)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d keys)\n",
				successStyle.Render("已重置"), storage.Slug(opts.project), n)
			return nil
		},
	}
}

func newProjectsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects that have a stored document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.Gateway.Projects(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(projects) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("没有项目"))
				return nil
			}
			for _, p := range projects {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
}

func newTokenCmd(opts *cliOptions) *cobra.Command {
	var userID string
	var projects []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an approved session token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.loadConfig()
			secret, ephemeral, err := auth.ResolveSecret(cfg.AuthSecretKey, cfg.DebugMode)
			if err != nil {
				return err
			}
			if ephemeral {
				return fmt.Errorf("未设置 AUTH_SECRET_KEY，服务器无法验证此令牌")
			}

			token, err := auth.GenerateToken(userID, projects, &auth.TokenConfig{Secret: secret, Expiration: ttl})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id carried by the token")
	cmd.Flags().StringSliceVar(&projects, "projects", nil, "projects the token may access (default all)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
