// Command fakeprovider serves a local stand-in for the inference provider so
// the relay can be exercised end to end without credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whitewookie32/TheDonna/internal/providertest"
)

var (
	listenAddr string
	transcript string
	reply      string
	audioFile  string
	delay      time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "fakeprovider",
	Short:        "Fake OpenAI-compatible provider for local development",
	SilenceUsage: true,
	Long: `fakeprovider answers /audio/transcriptions, /chat/completions and
/audio/speech with canned responses. Point provider.base_url at it and set
any API key.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8081", "Address to listen on")
	rootCmd.Flags().StringVar(&transcript, "transcript", "hello", "Text returned for every transcription")
	rootCmd.Flags().StringVar(&reply, "reply", "I'm Donna. It's handled.", "Text returned for every chat completion")
	rootCmd.Flags().StringVar(&audioFile, "audio-file", "", "File returned for every speech request (built-in bytes when empty)")
	rootCmd.Flags().DurationVar(&delay, "delay", 0, "Latency added to every response")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := providertest.NewHandler(logger)

	stt := providertest.TranscriptionText(transcript)
	chat := providertest.ChatReply(reply)
	stt.Delay, chat.Delay = delay, delay
	handler.SetTranscription(stt)
	handler.SetChat(chat)

	if audioFile != "" {
		data, err := os.ReadFile(audioFile)
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}
		speech := providertest.SpeechAudio(data)
		speech.Delay = delay
		handler.SetSpeech(speech)
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Fake provider listening", slog.String("address", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("fake provider failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}

	logger.Info("Fake provider stopped", slog.Int("requests_served", handler.CallCount()))
	return nil
}
