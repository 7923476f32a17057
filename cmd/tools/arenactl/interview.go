package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/pitch-arena/backend/internal/app"
	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
)

const endCommand = "/end"

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run a text-only interview against the configured panel",
	Long: `Runs a complete interview in the terminal. The panel asks up to six
questions; type "/end" at any prompt to finish early and request the analysis.`,
	Args: cobra.NoArgs,
	RunE: runInterview,
}

func init() {
	rootCmd.AddCommand(interviewCmd)

	interviewCmd.Flags().StringP("artifact", "a", "", "pitch deck to preview (required)")
	interviewCmd.Flags().StringP("name", "n", "", "artifact display name (default: file name)")
	_ = interviewCmd.MarkFlagRequired("artifact")
}

// terminalSink 只把需要提示给用户的事件打印出来，问题本身由命令循环输出。
type terminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminalSink) Emit(ev interview.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case interview.EventRecoverableError:
		if notice, ok := ev.Data.(interview.ErrorNotice); ok {
			fmt.Fprintf(t.out, "! %s\n", notice.Message)
		}
	case interview.EventPhaseChanged:
		if data, ok := ev.Data.(map[string]model.Phase); ok {
			fmt.Fprintf(t.out, "-- phase: %s\n", data["phase"])
		}
	}
}

func runInterview(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	path, _ := cmd.Flags().GetString("artifact")
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	preview, err := interview.ExtractPreview(f, cfg.Interview.PreviewMaxChars)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	// 终端里没有前端倒计时，开场问题直接生成。
	cfg.Interview.OpeningDelay = 0

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	svc := app.Build(ctx, cfg, log, nil, &terminalSink{out: out})

	session := svc.Interviews.Create()
	defer func() { _ = svc.Interviews.Discard(session.ID()) }()

	if err := session.Setup(model.Artifact{Name: name, Preview: preview}); err != nil {
		return err
	}
	if err := session.ReportMedia(true, "terminal"); err != nil {
		return err
	}
	if err := session.GoLive(); err != nil {
		return err
	}

	printed := printNewTurns(out, svc.Personas, session.Snapshot(), 0)
	for session.Phase() == model.PhaseLive {
		prompt := promptui.Prompt{
			Label: fmt.Sprintf("You (%d/%d)", session.Snapshot().TurnCount, model.MaxTurns),
		}
		answer, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return session.End(context.WithoutCancel(ctx))
			}
			return err
		}

		answer = strings.TrimSpace(answer)
		if answer == endCommand {
			if err := session.End(ctx); err != nil {
				return err
			}
			break
		}

		if _, err := session.TakeTurn(ctx, interview.Input{Text: answer}); err != nil {
			if errors.Is(err, interview.ErrTurnFailed) || errors.Is(err, interview.ErrInputRequired) {
				continue
			}
			return err
		}
		printed = printNewTurns(out, svc.Personas, session.Snapshot(), printed)
	}

	snap := session.Snapshot()
	if snap.Analysis == nil {
		fmt.Fprintln(out, "No analysis was produced.")
		return nil
	}
	printAnalysis(out, *snap.Analysis)
	return nil
}

// printNewTurns 输出 from 之后的评委提问，返回已输出的对话条数。
func printNewTurns(w io.Writer, personas persona.Store, snap interview.Snapshot, from int) int {
	for _, turn := range snap.Conversation[min(from, len(snap.Conversation)):] {
		if turn.Speaker != model.SpeakerPanelist {
			continue
		}
		speaker := turn.PersonaID
		if p, ok := personas.FindByID(turn.PersonaID); ok {
			speaker = p.Name
		}
		fmt.Fprintf(w, "\n%s: %s\n\n", speaker, turn.Text)
	}
	return len(snap.Conversation)
}

func printAnalysis(w io.Writer, result model.AnalysisResult) {
	fmt.Fprintln(w, "\n== Analysis ==")
	fmt.Fprintf(w, "Engagement:       %d\n", result.EngagementScore)
	fmt.Fprintf(w, "Content accuracy: %d\n", result.ContentAccuracyScore)
	fmt.Fprintf(w, "Facial:           %s\n", result.Nonverbal.FacialExpression)
	fmt.Fprintf(w, "Body language:    %s\n", result.Nonverbal.BodyLanguage)
	fmt.Fprintf(w, "\n%s\n", result.Summary)
	if result.Fallback {
		fmt.Fprintln(w, "(evaluation service unavailable, default scores shown)")
	}
}
