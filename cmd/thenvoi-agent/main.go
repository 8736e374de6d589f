// Command thenvoi-agent hosts one agent on the platform from the command
// line: it loads credentials, picks an adapter, and runs until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/thenvoi/thenvoi-go/adapter"
	"github.com/thenvoi/thenvoi-go/adapter/anthropic"
	"github.com/thenvoi/thenvoi-go/adapter/openai"
	"github.com/thenvoi/thenvoi-go/config"
	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "thenvoi-agent",
		Short: "Host an AI agent in Thenvoi chat rooms",
	}
	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		agentKey     string
		adapterName  string
		model        string
		instructions string
		statusAddr   string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and process room events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			settings, err := config.Load(agentKey)
			if err != nil {
				return err
			}

			ad, err := buildAdapter(adapterName, model, instructions)
			if err != nil {
				return err
			}

			link := platform.NewLink(settings.Credentials, settings.Platform,
				platform.WithLogger(logger))
			rt := runtime.New(link, ad, runtime.Config{Logger: logger})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if statusAddr != "" {
				go serveStatus(ctx, statusAddr, rt, logger)
			}

			return rt.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&agentKey, "agent", "", "agent key in agent_config.yaml (env vars used when empty)")
	cmd.Flags().StringVar(&adapterName, "adapter", "simple", "adapter: simple, anthropic, or openai")
	cmd.Flags().StringVar(&model, "model", "", "model id for LLM adapters")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra system prompt text for LLM adapters")
	cmd.Flags().StringVar(&statusAddr, "statusz", "", "serve /healthz and /rooms on this address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func buildAdapter(name, model, instructions string) (runtime.Adapter, error) {
	switch name {
	case "simple":
		return &adapter.Simple{
			Respond: func(turn runtime.Turn) string {
				return "Received " + fmt.Sprint(len(turn.Messages)) + " message(s)."
			},
		}, nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" || model == "" {
			return nil, fmt.Errorf("anthropic adapter needs ANTHROPIC_API_KEY and --model")
		}
		return anthropic.New(key, model, anthropic.WithInstructions(instructions)), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" || model == "" {
			return nil, fmt.Errorf("openai adapter needs OPENAI_API_KEY and --model")
		}
		return openai.New(key, model, openai.WithInstructions(instructions)), nil
	}
	return nil, fmt.Errorf("unknown adapter %q", name)
}

// serveStatus exposes a small ops surface: liveness and the room map with
// lifecycle phases.
func serveStatus(ctx context.Context, addr string, rt *runtime.Runtime, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		rooms := rt.Rooms()
		out := make(map[string]string, len(rooms))
		for id, phase := range rooms {
			out[id] = phase.String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("status server failed", "error", err)
	}
}
