package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/app"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
)

var asrCmd = &cobra.Command{
	Use:   "asr <audio-file>",
	Short: "Transcribe an audio file with the configured recognizer",
	Args:  cobra.ExactArgs(1),
	RunE:  runASR,
}

var ttsCmd = &cobra.Command{
	Use:   "tts <text>",
	Short: "Speak a line through the synthesis cascade and save the audio",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTTS,
}

func init() {
	rootCmd.AddCommand(asrCmd, ttsCmd)

	asrCmd.Flags().StringP("format", "f", "", "audio format (default: file extension)")
	asrCmd.Flags().Duration("timeout", 45*time.Second, "request timeout")

	ttsCmd.Flags().StringP("persona", "p", persona.OpeningID, "panelist whose voice is used")
	ttsCmd.Flags().StringP("out", "o", "", "output file (default: speech-<backend>.<format>)")
	ttsCmd.Flags().Duration("timeout", 45*time.Second, "request timeout")
}

func runASR(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	audio, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), ".")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	svc := app.Build(ctx, cfg, log, nil, nil)
	if !svc.Transcriber.Available() {
		return speech.ErrTranscriptionUnavailable
	}

	start := time.Now()
	text, err := svc.Transcriber.Transcribe(ctx, fmt.Sprintf("cli-%d", start.UnixNano()), audio, format)
	if err != nil {
		return err
	}
	log.Debug("transcribed", zap.Duration("elapsed", time.Since(start)), zap.Int("bytes", len(audio)))
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func runTTS(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	personaID, _ := cmd.Flags().GetString("persona")
	out, _ := cmd.Flags().GetString("out")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	svc := app.Build(ctx, cfg, log, nil, nil)
	judge, ok := svc.Personas.FindByID(personaID)
	if !ok {
		return fmt.Errorf("unknown persona %q", personaID)
	}

	playback := svc.Synthesizer.Speak(ctx, speech.Utterance{
		SessionID: fmt.Sprintf("cli-%d", time.Now().UnixNano()),
		Text:      strings.Join(args, " "),
		Persona:   judge,
	})

	if playback.IsLocal() {
		fmt.Fprintln(cmd.OutOrStdout(), "no remote backend produced audio; device instruction:")
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(playback.Local)
	}
	if len(playback.Audio) == 0 {
		return errors.New("synthesis returned no audio")
	}

	if out == "" {
		format := playback.Format
		if format == "" {
			format = "mp3"
		}
		out = fmt.Sprintf("speech-%s.%s", playback.Backend, format)
	}
	if err := os.WriteFile(out, playback.Audio, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes written to %s\n", playback.Backend, len(playback.Audio), out)
	return nil
}
